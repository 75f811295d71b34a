package verify

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

const (
	signatureLength       = 64
	secp256k1DigestLength = 32
)

// Verify checks sig over digest against pub on the given curve.
// A false result with a nil error is a well-formed signature that does not verify;
// an error means the key or signature could not be interpreted at all.
func Verify(digest []byte, sig staking.Signature, pub staking.PublicKey, curve staking.Curve) (bool, error) {
	if pub.Curve != "" && pub.Curve != curve {
		return false, errors.Errorf("public key is %s, expected %s", pub.Curve, curve)
	}
	if len(sig.Bytes) != signatureLength {
		return false, errors.Errorf("signature must be %d bytes, got %d", signatureLength, len(sig.Bytes))
	}

	switch curve {
	case staking.CurveEd25519:
		if len(pub.Bytes) != ed25519.PublicKeySize {
			return false, errors.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub.Bytes))
		}
		return ed25519.Verify(pub.Bytes, digest, sig.Bytes), nil

	case staking.CurveSecp256k1:
		return verifySecp256k1(digest, sig, pub.Bytes)

	default:
		return false, errors.Errorf("unsupported curve %q", curve)
	}
}

func verifySecp256k1(digest []byte, sig staking.Signature, pub []byte) (bool, error) {
	if len(digest) != secp256k1DigestLength {
		return false, errors.Errorf("secp256k1 digest must be %d bytes, got %d", secp256k1DigestLength, len(digest))
	}
	key, err := btcec.ParsePubKey(pub)
	if err != nil {
		return false, errors.Wrap(err, "failed to parse secp256k1 public key")
	}
	uncompressed := key.SerializeUncompressed()

	// rejects high-S signatures
	if !crypto.VerifySignature(uncompressed, digest, sig.Bytes) {
		return false, nil
	}

	if sig.RecoveryID != nil {
		recovered, err := crypto.Ecrecover(digest, append(append([]byte(nil), sig.Bytes...), *sig.RecoveryID))
		if err != nil || !bytes.Equal(recovered, uncompressed) {
			return false, nil
		}
	}
	return true, nil
}

// Witness verifies a witness over digest and reports a mismatch as a SignatureMismatch pipeline error
func Witness(ctx context.Context, digest *staking.SigningDigest, w staking.Witness) error {
	curve := staking.CurveFor(digest.Chain)
	ok, err := Verify(digest.Bytes(), w.Signature, w.PublicKey, curve)
	if err != nil {
		return &staking.PipelineError{
			Kind:    staking.KindSignatureMismatch,
			Stage:   staking.StageVerify,
			Chain:   digest.Chain,
			Role:    w.Role,
			Message: "witness could not be verified",
			Err:     err,
		}
	}
	if !ok {
		util.LogFromContext(ctx).Warn().
			Str("component", "verify").
			Str("chain", string(digest.Chain)).
			Str("role", string(w.Role)).
			Str("public_key", w.PublicKey.Hex()).
			Msg("Signature does not verify against the signing digest")
		return &staking.PipelineError{
			Kind:    staking.KindSignatureMismatch,
			Stage:   staking.StageVerify,
			Chain:   digest.Chain,
			Role:    w.Role,
			Message: "signature does not verify against public key " + w.PublicKey.Hex(),
		}
	}
	return nil
}

// NormalizeLowS rewrites a secp256k1 signature with s > N/2 to its low-S twin, flipping the
// recovery id when present. Custodians are not required to return canonical signatures.
func NormalizeLowS(sig staking.Signature) staking.Signature {
	if len(sig.Bytes) != signatureLength {
		return sig
	}
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(sig.Bytes[32:]); overflow || !s.IsOverHalfOrder() {
		return sig
	}
	s.Negate()
	sBytes := s.Bytes()

	out := staking.Signature{Bytes: make([]byte, signatureLength)}
	copy(out.Bytes, sig.Bytes[:32])
	copy(out.Bytes[32:], sBytes[:])
	if sig.RecoveryID != nil {
		v := *sig.RecoveryID ^ 1
		out.RecoveryID = &v
	}
	return out
}
