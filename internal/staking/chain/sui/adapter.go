package sui

import (
	"bytes"
	"encoding/base64"

	"github.com/btcsuite/btcutil/base58"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain"
	"golang.org/x/crypto/blake2b"
)

const (
	// SchemeEd25519 is the signature scheme flag of Ed25519 keys
	SchemeEd25519 byte = 0x00

	publicKeyLength = 32
	signatureLength = 64
	// serialized signature: flag || signature || public key
	serializedSignatureLength = 1 + signatureLength + publicKeyLength
)

// intent prefix for TransactionData: scope TransactionData, version V0, app Sui
var transactionIntent = []byte{0x00, 0x00, 0x00}

// Transaction is the decoded form of BCS TransactionData
type Transaction struct {
	Data *TransactionData
	// Bytes holds the original BCS bytes
	Bytes []byte
}

// Sponsored reports whether gas is paid by an address other than the sender
func (t *Transaction) Sponsored() bool {
	return t.Data.Gas.Owner != t.Data.Sender
}

type adapter struct{}

// NewAdapter creates the Sui chain adapter
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewAdapter() chain.Adapter {
	return &adapter{}
}

func (a *adapter) Chain() staking.ChainKind {
	return staking.ChainSui
}

// ParseUnsigned decodes BCS TransactionData
func (a *adapter) ParseUnsigned(raw []byte) (*staking.UnsignedTransaction, error) {
	data, err := DecodeTransactionData(raw)
	if err != nil {
		return nil, staking.Malformed(staking.ChainSui, err, "failed to decode transaction data")
	}

	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)

	return &staking.UnsignedTransaction{
		Chain:   staking.ChainSui,
		Raw:     rawCopy,
		Decoded: &Transaction{Data: data, Bytes: rawCopy},
	}, nil
}

// DeriveDigest returns Blake2b-256 over the intent message
func (a *adapter) DeriveDigest(tx *staking.UnsignedTransaction) (*staking.SigningDigest, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}
	digest := IntentDigest(decoded.Bytes)
	return staking.NewSigningDigest(staking.ChainSui, digest[:]), nil
}

// IntentDigest returns Blake2b-256(0x00 0x00 0x00 || txBytes)
func IntentDigest(txBytes []byte) [32]byte {
	msg := make([]byte, 0, len(transactionIntent)+len(txBytes))
	msg = append(msg, transactionIntent...)
	msg = append(msg, txBytes...)
	return blake2b.Sum256(msg)
}

// TransactionDigest returns the base58 transaction digest, Blake2b-256("TransactionData::" || txBytes)
func TransactionDigest(txBytes []byte) string {
	msg := append([]byte("TransactionData::"), txBytes...)
	sum := blake2b.Sum256(msg)
	return base58.Encode(sum[:])
}

// PublicKeyAddress derives the Sui address of an Ed25519 public key
func PublicKeyAddress(pub []byte) Address {
	msg := append([]byte{SchemeEd25519}, pub...)
	return Address(blake2b.Sum256(msg))
}

// SerializeSignature returns base64(flag || signature || public key)
func SerializeSignature(sig []byte, pub []byte) string {
	out := make([]byte, 0, serializedSignatureLength)
	out = append(out, SchemeEd25519)
	out = append(out, sig...)
	out = append(out, pub...)
	return base64.StdEncoding.EncodeToString(out)
}

// ParseSerializedSignature splits a base64 serialized Ed25519 signature
func ParseSerializedSignature(s string) ([]byte, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to decode serialized signature")
	}
	return splitSignature(raw)
}

func splitSignature(raw []byte) ([]byte, []byte, error) {
	if len(raw) != serializedSignatureLength {
		return nil, nil, errors.Errorf("serialized signature must be %d bytes, got %d", serializedSignatureLength, len(raw))
	}
	if raw[0] != SchemeEd25519 {
		return nil, nil, errors.Errorf("unsupported signature scheme 0x%02x", raw[0])
	}
	return raw[1 : 1+signatureLength], raw[1+signatureLength:], nil
}

// RequiredRoles returns sender, plus sponsor when the gas owner differs from the sender
func (a *adapter) RequiredRoles(tx *staking.UnsignedTransaction) ([]staking.RoleRequirement, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}
	return decoded.requirements(), nil
}

func (t *Transaction) requirements() []staking.RoleRequirement {
	sender := t.Data.Sender
	roles := []staking.RoleRequirement{{Role: staking.RoleSender, Key: sender[:]}}
	if t.Sponsored() {
		owner := t.Data.Gas.Owner
		roles = append(roles, staking.RoleRequirement{Role: staking.RoleSponsor, Key: owner[:]})
	}
	return roles
}

// AssembleSigned returns the SenderSignedData envelope and the serialized signatures in role order
func (a *adapter) AssembleSigned(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.SignedTransaction, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}

	ordered, missing, err := decoded.match(witnesses)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, chain.Incomplete(staking.ChainSui, missing)
	}

	sigs := make([]string, 0, len(ordered))
	serialized := make([][]byte, 0, len(ordered))
	for _, w := range ordered {
		b64 := SerializeSignature(w.Signature.Bytes, w.PublicKey.Bytes)
		sigs = append(sigs, b64)
		raw, _ := base64.StdEncoding.DecodeString(b64)
		serialized = append(serialized, raw)
	}

	envelope, err := encodeSenderSignedData(decoded.Data, serialized)
	if err != nil {
		return nil, staking.Malformed(staking.ChainSui, err, "failed to assemble signed transaction")
	}

	return &staking.SignedTransaction{
		Chain:      staking.ChainSui,
		Raw:        envelope,
		Unsigned:   tx.Raw,
		Hash:       TransactionDigest(decoded.Bytes),
		Signatures: sigs,
		Witnesses:  ordered,
	}, nil
}

// AssemblePartial returns the collected witnesses and the roles still missing
func (a *adapter) AssemblePartial(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.PartialTransaction, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}

	ordered, missing, err := decoded.match(witnesses)
	if err != nil {
		return nil, err
	}

	return &staking.PartialTransaction{
		Chain:     staking.ChainSui,
		Unsigned:  tx.Raw,
		Witnesses: ordered,
		Missing:   missing,
	}, nil
}

// ExtractWitnesses decodes a SenderSignedData envelope
func (a *adapter) ExtractWitnesses(signed []byte) ([]staking.Witness, error) {
	txBytes, sigs, err := decodeSenderSignedData(signed)
	if err != nil {
		return nil, staking.Malformed(staking.ChainSui, err, "failed to decode signed transaction")
	}
	data, err := DecodeTransactionData(txBytes)
	if err != nil {
		return nil, staking.Malformed(staking.ChainSui, err, "failed to decode transaction data")
	}

	out := make([]staking.Witness, 0, len(sigs))
	for _, raw := range sigs {
		sig, pub, err := splitSignature(raw)
		if err != nil {
			return nil, staking.Malformed(staking.ChainSui, err, "invalid signature")
		}
		role := staking.RoleSponsor
		if PublicKeyAddress(pub) == data.Sender {
			role = staking.RoleSender
		}
		out = append(out, staking.Witness{
			Role:      role,
			PublicKey: staking.PublicKey{Curve: staking.CurveEd25519, Bytes: append([]byte(nil), pub...)},
			Signature: staking.Signature{Bytes: append([]byte(nil), sig...)},
		})
	}
	return out, nil
}

// match orders witnesses by role and checks each key's address against the role
func (t *Transaction) match(witnesses []staking.Witness) ([]staking.Witness, []staking.Role, error) {
	required := t.requirements()
	byRole, missing, err := chain.MatchWitnesses(staking.ChainSui, required, witnesses)
	if err != nil {
		return nil, nil, err
	}

	var ordered []staking.Witness
	for _, req := range required {
		w, ok := byRole[req.Role]
		if !ok {
			continue
		}
		if len(w.PublicKey.Bytes) != publicKeyLength || len(w.Signature.Bytes) != signatureLength {
			return nil, nil, &staking.PipelineError{
				Kind:    staking.KindSignatureMismatch,
				Chain:   staking.ChainSui,
				Role:    req.Role,
				Message: "ed25519 witness must carry a 32 byte key and a 64 byte signature",
			}
		}
		addr := PublicKeyAddress(w.PublicKey.Bytes)
		if !bytes.Equal(addr[:], req.Key) {
			return nil, nil, &staking.PipelineError{
				Kind:    staking.KindUnknownSignerRole,
				Chain:   staking.ChainSui,
				Role:    req.Role,
				Message: "signer address " + addr.String() + " does not match the transaction",
			}
		}
		ordered = append(ordered, w)
	}
	return ordered, missing, nil
}

func decodedOf(tx *staking.UnsignedTransaction) (*Transaction, error) {
	if tx == nil || tx.Chain != staking.ChainSui {
		return nil, staking.Malformed(staking.ChainSui, nil, "not a sui transaction")
	}
	decoded, ok := tx.Decoded.(*Transaction)
	if !ok {
		return nil, staking.Malformed(staking.ChainSui, nil, "transaction was not parsed by the sui adapter")
	}
	return decoded, nil
}
