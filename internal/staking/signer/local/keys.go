package local

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/signer/seed"
	"github/chapool/go-staking/internal/util"
)

const (
	suiPrivKeyHRP     = "suiprivkey"
	suiFlagEd25519    = 0x00
	suiPrivKeyLength  = 1 + ed25519.SeedSize
	cardanoPathPrefix = "m/1852'"
)

// signingKey is key material resolved for one signing call
type signingKey interface {
	curve() staking.Curve
	publicKey() []byte
	sign(digest []byte) (staking.Signature, error)
	zero()
}

type secp256k1Key struct {
	d []byte
}

func (k *secp256k1Key) curve() staking.Curve {
	return staking.CurveSecp256k1
}

func (k *secp256k1Key) publicKey() []byte {
	priv, err := crypto.ToECDSA(k.d)
	if err != nil {
		return nil
	}
	defer priv.D.SetInt64(0)
	return crypto.CompressPubkey(&priv.PublicKey)
}

func (k *secp256k1Key) sign(digest []byte) (staking.Signature, error) {
	priv, err := crypto.ToECDSA(k.d)
	if err != nil {
		return staking.Signature{}, errors.Wrap(err, "failed to convert private key to ECDSA")
	}
	defer priv.D.SetInt64(0)

	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return staking.Signature{}, errors.Wrap(err, "failed to sign digest")
	}
	v := sig[crypto.RecoveryIDOffset]
	return staking.Signature{Bytes: sig[:crypto.RecoveryIDOffset], RecoveryID: &v}, nil
}

func (k *secp256k1Key) zero() {
	util.Zero(k.d)
}

type ed25519Key struct {
	priv ed25519.PrivateKey
}

func (k *ed25519Key) curve() staking.Curve {
	return staking.CurveEd25519
}

func (k *ed25519Key) publicKey() []byte {
	return append([]byte(nil), k.priv.Public().(ed25519.PublicKey)...)
}

func (k *ed25519Key) sign(digest []byte) (staking.Signature, error) {
	return staking.Signature{Bytes: ed25519.Sign(k.priv, digest)}, nil
}

func (k *ed25519Key) zero() {
	util.Zero(k.priv)
}

// fromSeed builds an ed25519 key and zeroes b
func fromSeed(b []byte) *ed25519Key {
	k := &ed25519Key{priv: ed25519.NewKeyFromSeed(b)}
	util.Zero(b)
	return k
}

// resolve materializes the key described by spec. keystoreSeed supplies the seed of the
// unlocked keystore. Caller must zero the result.
func resolve(spec KeySpec, keystoreSeed func() ([]byte, error)) (signingKey, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	switch spec.Source {
	case SourceHex:
		return fromHex(spec)
	case SourceBase58:
		return fromSolanaSecret(spec.Value)
	case SourceSuiPrivKey:
		return fromSuiPrivKey(spec.Value)
	case SourceCardanoRoot:
		raw, err := util.DecodeHex(spec.Value)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode root key")
		}
		defer util.Zero(raw)
		root, err := parseRootKey(raw)
		if err != nil {
			return nil, err
		}
		defer root.zero()
		child, err := root.derive(spec.Path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to derive cardano key")
		}
		return &extendedSigner{key: child}, nil
	case SourceMnemonic:
		return fromSeedSource(spec, func() ([]byte, error) {
			return seed.FromMnemonic(spec.Value, spec.Passphrase)
		})
	case SourceKeystore:
		return fromSeedSource(spec, keystoreSeed)
	default:
		return nil, errors.Errorf("unknown key source %q", spec.Source)
	}
}

func fromHex(spec KeySpec) (signingKey, error) {
	raw, err := util.DecodeHex(spec.Value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode key")
	}

	switch {
	case spec.Curve == staking.CurveSecp256k1 && len(raw) == privateKeyBytes:
		return &secp256k1Key{d: raw}, nil
	case spec.Curve == staking.CurveEd25519 && len(raw) == ed25519.SeedSize:
		return fromSeed(raw), nil
	case spec.Curve == staking.CurveEd25519 && len(raw) == ed25519.PrivateKeySize:
		return fromKeypair(raw)
	default:
		util.Zero(raw)
		return nil, errors.Errorf("%s hex key has unexpected length %d", spec.Curve, len(raw))
	}
}

// fromKeypair takes a 64 byte seed||public key and checks both halves agree
func fromKeypair(raw []byte) (signingKey, error) {
	want := append([]byte(nil), raw[ed25519.SeedSize:]...)
	key := fromSeed(raw[:ed25519.SeedSize])
	util.Zero(raw)
	if string(key.publicKey()) != string(want) {
		key.zero()
		return nil, errors.New("secret key does not match its embedded public key")
	}
	return key, nil
}

func fromSolanaSecret(value string) (signingKey, error) {
	secret, err := solana.PrivateKeyFromBase58(strings.TrimSpace(value))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode solana secret key")
	}
	if len(secret) != ed25519.PrivateKeySize {
		util.Zero(secret)
		return nil, errors.Errorf("solana secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}
	return fromKeypair(secret)
}

func fromSuiPrivKey(value string) (signingKey, error) {
	value = strings.TrimSpace(value)

	var raw []byte
	if strings.HasPrefix(value, suiPrivKeyHRP+"1") {
		hrp, data, err := bech32.Decode(value)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode suiprivkey")
		}
		if hrp != suiPrivKeyHRP {
			return nil, errors.Errorf("unexpected bech32 prefix %q", hrp)
		}
		if raw, err = bech32.ConvertBits(data, 5, 8, false); err != nil {
			return nil, errors.Wrap(err, "failed to convert suiprivkey")
		}
	} else {
		var err error
		if raw, err = base64.StdEncoding.DecodeString(value); err != nil {
			return nil, errors.Wrap(err, "key is neither suiprivkey bech32 nor base64")
		}
	}

	if len(raw) != suiPrivKeyLength {
		util.Zero(raw)
		return nil, errors.Errorf("sui private key must be %d bytes, got %d", suiPrivKeyLength, len(raw))
	}
	if raw[0] != suiFlagEd25519 {
		util.Zero(raw)
		return nil, errors.Errorf("unsupported sui key scheme 0x%02x", raw[0])
	}
	key := fromSeed(raw[1:])
	util.Zero(raw)
	return key, nil
}

func fromSeedSource(spec KeySpec, seedOf func() ([]byte, error)) (signingKey, error) {
	if strings.HasPrefix(spec.Path, cardanoPathPrefix) {
		return nil, errors.New("cardano keys derive from a cardano-root key, not a BIP39 seed")
	}

	s, err := seedOf()
	if err != nil {
		return nil, err
	}
	defer util.Zero(s)

	if spec.Curve == staking.CurveSecp256k1 {
		d, err := deriveSecp256k1(s, spec.Path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to derive private key")
		}
		return &secp256k1Key{d: d}, nil
	}

	edSeed, err := deriveSLIP10(s, spec.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive private key")
	}
	return fromSeed(edSeed), nil
}
