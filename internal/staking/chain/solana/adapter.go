package solana

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain"
)

const signatureLength = 64

// Transaction is the decoded form of a Solana wire transaction
type Transaction struct {
	Tx *solana.Transaction
	// Message holds the exact serialized message bytes taken from the wire form
	Message []byte
	Signers []solana.PublicKey
	// Prefilled maps signer index to a signature already present in the blob
	Prefilled map[int]solana.Signature
}

type adapter struct{}

// NewAdapter creates the Solana chain adapter
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewAdapter() chain.Adapter {
	return &adapter{}
}

func (a *adapter) Chain() staking.ChainKind {
	return staking.ChainSolana
}

// Role returns the role name of a required signer
func Role(key solana.PublicKey) staking.Role {
	return staking.Role(key.String())
}

// ParseUnsigned decodes a wire transaction whose signature slots may be zero
func (a *adapter) ParseUnsigned(raw []byte) (*staking.UnsignedTransaction, error) {
	decoded, err := decode(raw)
	if err != nil {
		return nil, err
	}

	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)

	return &staking.UnsignedTransaction{
		Chain:   staking.ChainSolana,
		Raw:     rawCopy,
		Decoded: decoded,
	}, nil
}

func decode(raw []byte) (*Transaction, error) {
	if len(raw) == 0 {
		return nil, staking.Malformed(staking.ChainSolana, nil, "empty transaction")
	}

	numSigs, prefixLen, err := bin.DecodeCompactU16(raw)
	if err != nil {
		return nil, staking.Malformed(staking.ChainSolana, err, "failed to read signature count")
	}
	offset := prefixLen + numSigs*signatureLength
	if offset >= len(raw) {
		return nil, staking.Malformed(staking.ChainSolana, nil, "transaction truncated before message")
	}

	//nolint:varnamelen // tx is a common abbreviation for transaction
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, staking.Malformed(staking.ChainSolana, err, "failed to decode transaction")
	}

	message := raw[offset:]
	reencoded, err := tx.Message.MarshalBinary()
	if err != nil || !bytes.Equal(reencoded, message) {
		return nil, staking.Malformed(staking.ChainSolana, err, "message bytes are not canonical")
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if required == 0 || required > len(tx.Message.AccountKeys) {
		return nil, staking.Malformed(staking.ChainSolana, nil, "invalid number of required signatures %d", required)
	}
	if numSigs != required {
		return nil, staking.Malformed(staking.ChainSolana, nil, "signature slots %d do not match required signers %d", numSigs, required)
	}

	prefilled := make(map[int]solana.Signature)
	for i, sig := range tx.Signatures {
		if sig != (solana.Signature{}) {
			prefilled[i] = sig
		}
	}

	return &Transaction{
		Tx:        tx,
		Message:   append([]byte(nil), message...),
		Signers:   append([]solana.PublicKey(nil), tx.Message.AccountKeys[:required]...),
		Prefilled: prefilled,
	}, nil
}

// DeriveDigest returns the serialized message; Solana signs it without hashing
func (a *adapter) DeriveDigest(tx *staking.UnsignedTransaction) (*staking.SigningDigest, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}
	return staking.NewSigningDigest(staking.ChainSolana, decoded.Message), nil
}

// RequiredRoles returns one role per required signer, fee payer first
func (a *adapter) RequiredRoles(tx *staking.UnsignedTransaction) ([]staking.RoleRequirement, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}
	return decoded.requirements(), nil
}

func (t *Transaction) requirements() []staking.RoleRequirement {
	out := make([]staking.RoleRequirement, 0, len(t.Signers))
	for i, key := range t.Signers {
		req := staking.RoleRequirement{Role: Role(key), Key: append([]byte(nil), key[:]...)}
		if sig, ok := t.Prefilled[i]; ok {
			req.Prefilled = &staking.Witness{
				Role:      req.Role,
				PublicKey: staking.PublicKey{Curve: staking.CurveEd25519, Bytes: req.Key},
				Signature: staking.Signature{Bytes: append([]byte(nil), sig[:]...)},
			}
		}
		out = append(out, req)
	}
	return out
}

// AssembleSigned fills every signature slot and serializes the wire transaction
func (a *adapter) AssembleSigned(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.SignedTransaction, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}

	sigs, all, missing, err := decoded.fill(witnesses)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, chain.Incomplete(staking.ChainSolana, missing)
	}

	return &staking.SignedTransaction{
		Chain:     staking.ChainSolana,
		Raw:       decoded.serialize(sigs),
		Unsigned:  tx.Raw,
		Hash:      sigs[0].String(),
		Witnesses: all,
	}, nil
}

// AssemblePartial serializes the transaction with zero slots for missing signers
func (a *adapter) AssemblePartial(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.PartialTransaction, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}

	sigs, all, missing, err := decoded.fill(witnesses)
	if err != nil {
		return nil, err
	}

	return &staking.PartialTransaction{
		Chain:      staking.ChainSolana,
		Unsigned:   tx.Raw,
		Witnesses:  all,
		Missing:    missing,
		Serialized: decoded.serialize(sigs),
	}, nil
}

// ExtractWitnesses returns a witness for every filled signature slot
func (a *adapter) ExtractWitnesses(signed []byte) ([]staking.Witness, error) {
	decoded, err := decode(signed)
	if err != nil {
		return nil, err
	}

	var out []staking.Witness
	for _, req := range decoded.requirements() {
		if req.Prefilled != nil {
			out = append(out, *req.Prefilled)
		}
	}
	return out, nil
}

// fill merges witnesses into the signature slots; prefilled slots are kept unless overridden
func (t *Transaction) fill(witnesses []staking.Witness) ([]solana.Signature, []staking.Witness, []staking.Role, error) {
	required := t.requirements()
	byRole, _, err := chain.MatchWitnesses(staking.ChainSolana, required, witnesses)
	if err != nil {
		return nil, nil, nil, err
	}

	sigs := make([]solana.Signature, len(required))
	var all []staking.Witness
	var missing []staking.Role

	for i, req := range required {
		w, ok := byRole[req.Role]
		if !ok && req.Prefilled != nil {
			w, ok = *req.Prefilled, true
		}
		if !ok {
			missing = append(missing, req.Role)
			continue
		}
		if !bytes.Equal(w.PublicKey.Bytes, req.Key) {
			return nil, nil, nil, &staking.PipelineError{
				Kind:    staking.KindUnknownSignerRole,
				Chain:   staking.ChainSolana,
				Role:    req.Role,
				Message: "witness public key does not match the required signer",
			}
		}
		if len(w.Signature.Bytes) != signatureLength {
			return nil, nil, nil, &staking.PipelineError{
				Kind:    staking.KindSignatureMismatch,
				Chain:   staking.ChainSolana,
				Role:    req.Role,
				Message: "signature must be 64 bytes",
			}
		}
		copy(sigs[i][:], w.Signature.Bytes)
		all = append(all, w)
	}

	return sigs, all, missing, nil
}

func (t *Transaction) serialize(sigs []solana.Signature) []byte {
	out := make([]byte, 0, 3+len(sigs)*signatureLength+len(t.Message))
	bin.EncodeCompactU16Length(&out, len(sigs))
	for _, sig := range sigs {
		out = append(out, sig[:]...)
	}
	return append(out, t.Message...)
}

func decodedOf(tx *staking.UnsignedTransaction) (*Transaction, error) {
	if tx == nil || tx.Chain != staking.ChainSolana {
		return nil, staking.Malformed(staking.ChainSolana, nil, "not a solana transaction")
	}
	decoded, ok := tx.Decoded.(*Transaction)
	if !ok {
		return nil, staking.Malformed(staking.ChainSolana, nil, "transaction was not parsed by the solana adapter")
	}
	return decoded, nil
}
