package cardano

import (
	"bytes"
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain"
	"golang.org/x/crypto/blake2b"
)

// transaction body map keys
const (
	bodyKeyCertificates    = 4
	bodyKeyWithdrawals     = 5
	bodyKeyRequiredSigners = 14

	witnessKeyVKeys = 0

	keyHashLength   = 28
	vkeyLength      = 32
	signatureLength = 64
)

// certificate types whose stake credential must witness the transaction.
// Legacy registration (0) carries a credential but needs no witness.
var stakeCredentialCerts = map[uint64]bool{
	1: true, 2: true, // deregistration, delegation
	7: true, 8: true, 9: true, 10: true, 11: true, 12: true, 13: true, // conway
}

// Transaction is the decoded form of a Cardano transaction
type Transaction struct {
	// Body holds the original body bytes; they are hashed and re-emitted untouched
	Body       cbor.RawMessage
	WitnessSet cbor.RawMessage
	Tail       []cbor.RawMessage // is_valid and auxiliary data, era dependent
	// StakeKeyHash is the key credential referenced by certificates or withdrawals
	StakeKeyHash    []byte
	RequiredSigners [][]byte
}

type vkeyWitness struct {
	_         struct{} `cbor:",toarray"`
	VKey      []byte
	Signature []byte
}

type adapter struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewAdapter creates the Cardano chain adapter
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewAdapter() chain.Adapter {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{MaxArrayElements: 1 << 20, MaxMapPairs: 1 << 20}.DecMode()
	if err != nil {
		panic(err)
	}
	return &adapter{enc: enc, dec: dec}
}

func (a *adapter) Chain() staking.ChainKind {
	return staking.ChainCardano
}

// ParseUnsigned decodes [body, witness_set, is_valid?, auxiliary_data]
func (a *adapter) ParseUnsigned(raw []byte) (*staking.UnsignedTransaction, error) {
	decoded, err := a.decode(raw)
	if err != nil {
		return nil, err
	}

	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)

	return &staking.UnsignedTransaction{
		Chain:   staking.ChainCardano,
		Raw:     rawCopy,
		Decoded: decoded,
	}, nil
}

func (a *adapter) decode(raw []byte) (*Transaction, error) {
	var parts []cbor.RawMessage
	if err := a.dec.Unmarshal(raw, &parts); err != nil {
		return nil, staking.Malformed(staking.ChainCardano, err, "failed to decode transaction array")
	}
	if len(parts) != 3 && len(parts) != 4 {
		return nil, staking.Malformed(staking.ChainCardano, nil, "transaction array must have 3 or 4 elements, got %d", len(parts))
	}

	var body map[uint64]cbor.RawMessage
	if err := a.dec.Unmarshal(parts[0], &body); err != nil {
		return nil, staking.Malformed(staking.ChainCardano, err, "failed to decode transaction body")
	}
	var witnessSet map[uint64]cbor.RawMessage
	if err := a.dec.Unmarshal(parts[1], &witnessSet); err != nil {
		return nil, staking.Malformed(staking.ChainCardano, err, "failed to decode witness set")
	}

	stakeHash, err := a.stakeCredential(body)
	if err != nil {
		return nil, staking.Malformed(staking.ChainCardano, err, "invalid stake credential")
	}

	var required [][]byte
	if rs, ok := body[bodyKeyRequiredSigners]; ok {
		if err := a.dec.Unmarshal(rs, &required); err != nil {
			return nil, staking.Malformed(staking.ChainCardano, err, "failed to decode required signers")
		}
	}

	return &Transaction{
		Body:            parts[0],
		WitnessSet:      parts[1],
		Tail:            parts[2:],
		StakeKeyHash:    stakeHash,
		RequiredSigners: required,
	}, nil
}

// stakeCredential returns the single key-hash stake credential used by certificates and withdrawals
func (a *adapter) stakeCredential(body map[uint64]cbor.RawMessage) ([]byte, error) {
	var hashes [][]byte

	if raw, ok := body[bodyKeyCertificates]; ok {
		var certs []cbor.RawMessage
		if err := a.dec.Unmarshal(raw, &certs); err != nil {
			return nil, errors.Wrap(err, "failed to decode certificates")
		}
		for _, c := range certs {
			var fields []cbor.RawMessage
			if err := a.dec.Unmarshal(c, &fields); err != nil || len(fields) < 2 {
				return nil, errors.New("certificate is not an array")
			}
			var certType uint64
			if err := a.dec.Unmarshal(fields[0], &certType); err != nil {
				return nil, errors.Wrap(err, "failed to decode certificate type")
			}
			if !stakeCredentialCerts[certType] {
				continue
			}
			var cred struct {
				_    struct{} `cbor:",toarray"`
				Kind uint64
				Hash []byte
			}
			if err := a.dec.Unmarshal(fields[1], &cred); err != nil {
				return nil, errors.Wrap(err, "failed to decode stake credential")
			}
			if cred.Kind != 0 {
				// script credentials are not authorized by a key witness
				continue
			}
			hashes = append(hashes, cred.Hash)
		}
	}

	if raw, ok := body[bodyKeyWithdrawals]; ok {
		var withdrawals map[cbor.ByteString]uint64
		if err := a.dec.Unmarshal(raw, &withdrawals); err != nil {
			return nil, errors.Wrap(err, "failed to decode withdrawals")
		}
		for key := range withdrawals {
			account := string(key)
			// reward account: header byte, 28 byte credential; header 0xe_ is a key hash
			if len(account) != 1+keyHashLength || account[0]&0xf0 != 0xe0 {
				continue
			}
			hashes = append(hashes, []byte(account[1:]))
		}
	}

	if len(hashes) == 0 {
		return nil, nil
	}
	for _, h := range hashes {
		if len(h) != keyHashLength {
			return nil, errors.Errorf("stake key hash must be %d bytes", keyHashLength)
		}
		if !bytes.Equal(h, hashes[0]) {
			return nil, errors.New("transaction references more than one stake key")
		}
	}
	return hashes[0], nil
}

// DeriveDigest returns Blake2b-256 over the original body bytes
func (a *adapter) DeriveDigest(tx *staking.UnsignedTransaction) (*staking.SigningDigest, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(decoded.Body)
	return staking.NewSigningDigest(staking.ChainCardano, sum[:]), nil
}

// RequiredRoles returns payment, plus stake when the body carries stake certificates or withdrawals
func (a *adapter) RequiredRoles(tx *staking.UnsignedTransaction) ([]staking.RoleRequirement, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}
	return decoded.requirements(), nil
}

func (t *Transaction) requirements() []staking.RoleRequirement {
	roles := []staking.RoleRequirement{{Role: staking.RolePayment}}
	if t.StakeKeyHash != nil {
		roles = append(roles, staking.RoleRequirement{Role: staking.RoleStake, Key: t.StakeKeyHash})
	}
	return roles
}

// AssembleSigned writes the vkey witnesses into the witness set
func (a *adapter) AssembleSigned(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.SignedTransaction, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}

	byRole, missing, err := chain.MatchWitnesses(staking.ChainCardano, decoded.requirements(), witnesses)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, chain.Incomplete(staking.ChainCardano, missing)
	}

	ordered, err := decoded.checkWitnesses(byRole)
	if err != nil {
		return nil, err
	}
	if err := decoded.checkRequiredSigners(ordered); err != nil {
		return nil, err
	}

	raw, err := a.encode(decoded, ordered)
	if err != nil {
		return nil, err
	}

	sum := blake2b.Sum256(decoded.Body)
	return &staking.SignedTransaction{
		Chain:     staking.ChainCardano,
		Raw:       raw,
		Unsigned:  tx.Raw,
		Hash:      hex.EncodeToString(sum[:]),
		Witnesses: ordered,
	}, nil
}

// AssemblePartial returns the collected witnesses and the roles still missing
func (a *adapter) AssemblePartial(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.PartialTransaction, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}

	byRole, missing, err := chain.MatchWitnesses(staking.ChainCardano, decoded.requirements(), witnesses)
	if err != nil {
		return nil, err
	}
	ordered, err := decoded.checkWitnesses(byRole)
	if err != nil {
		return nil, err
	}

	return &staking.PartialTransaction{
		Chain:     staking.ChainCardano,
		Unsigned:  tx.Raw,
		Witnesses: ordered,
		Missing:   missing,
	}, nil
}

// ExtractWitnesses reads the vkey witnesses of a signed transaction
func (a *adapter) ExtractWitnesses(signed []byte) ([]staking.Witness, error) {
	decoded, err := a.decode(signed)
	if err != nil {
		return nil, err
	}

	vkeys, err := a.vkeyWitnesses(decoded.WitnessSet)
	if err != nil {
		return nil, err
	}

	out := make([]staking.Witness, 0, len(vkeys))
	for _, vk := range vkeys {
		role := staking.RolePayment
		if decoded.StakeKeyHash != nil && bytes.Equal(KeyHash(vk.VKey), decoded.StakeKeyHash) {
			role = staking.RoleStake
		}
		out = append(out, staking.Witness{
			Role:      role,
			PublicKey: staking.PublicKey{Curve: staking.CurveEd25519, Bytes: vk.VKey},
			Signature: staking.Signature{Bytes: vk.Signature},
		})
	}
	return out, nil
}

// checkWitnesses validates witness shapes and returns them in role order
func (t *Transaction) checkWitnesses(byRole map[staking.Role]staking.Witness) ([]staking.Witness, error) {
	var ordered []staking.Witness
	for _, req := range t.requirements() {
		w, ok := byRole[req.Role]
		if !ok {
			continue
		}
		if len(w.PublicKey.Bytes) != vkeyLength || len(w.Signature.Bytes) != signatureLength {
			return nil, &staking.PipelineError{
				Kind:    staking.KindSignatureMismatch,
				Chain:   staking.ChainCardano,
				Role:    req.Role,
				Message: "vkey witness must carry a 32 byte key and a 64 byte signature",
			}
		}
		if req.Key != nil && !bytes.Equal(KeyHash(w.PublicKey.Bytes), req.Key) {
			return nil, &staking.PipelineError{
				Kind:    staking.KindUnknownSignerRole,
				Chain:   staking.ChainCardano,
				Role:    req.Role,
				Message: "stake key hash does not match the certificate credential",
			}
		}
		ordered = append(ordered, w)
	}
	return ordered, nil
}

func (t *Transaction) checkRequiredSigners(witnesses []staking.Witness) error {
	for _, required := range t.RequiredSigners {
		found := false
		for _, w := range witnesses {
			if bytes.Equal(KeyHash(w.PublicKey.Bytes), required) {
				found = true
				break
			}
		}
		if !found {
			return &staking.PipelineError{
				Kind:    staking.KindIncompleteWitnessSet,
				Chain:   staking.ChainCardano,
				Message: "no witness for required signer " + hex.EncodeToString(required),
			}
		}
	}
	return nil
}

func (a *adapter) vkeyWitnesses(witnessSet cbor.RawMessage) ([]vkeyWitness, error) {
	var set map[uint64]cbor.RawMessage
	if err := a.dec.Unmarshal(witnessSet, &set); err != nil {
		return nil, staking.Malformed(staking.ChainCardano, err, "failed to decode witness set")
	}
	raw, ok := set[witnessKeyVKeys]
	if !ok {
		return nil, nil
	}
	var vkeys []vkeyWitness
	if err := a.dec.Unmarshal(raw, &vkeys); err != nil {
		return nil, staking.Malformed(staking.ChainCardano, err, "failed to decode vkey witnesses")
	}
	return vkeys, nil
}

// encode rebuilds the transaction with the body bytes untouched and key 0 of the witness set replaced
func (a *adapter) encode(t *Transaction, witnesses []staking.Witness) ([]byte, error) {
	var set map[uint64]cbor.RawMessage
	if err := a.dec.Unmarshal(t.WitnessSet, &set); err != nil {
		return nil, staking.Malformed(staking.ChainCardano, err, "failed to decode witness set")
	}
	if set == nil {
		set = make(map[uint64]cbor.RawMessage)
	}

	vkeys := make([]vkeyWitness, 0, len(witnesses))
	for _, w := range witnesses {
		vkeys = append(vkeys, vkeyWitness{VKey: w.PublicKey.Bytes, Signature: w.Signature.Bytes})
	}
	encodedVKeys, err := a.enc.Marshal(vkeys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode vkey witnesses")
	}
	set[witnessKeyVKeys] = encodedVKeys

	encodedSet, err := a.enc.Marshal(set)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode witness set")
	}

	parts := make([]cbor.RawMessage, 0, 2+len(t.Tail))
	parts = append(parts, t.Body, encodedSet)
	parts = append(parts, t.Tail...)

	out, err := a.enc.Marshal(parts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode transaction")
	}
	return out, nil
}

// KeyHash returns the Blake2b-224 hash of a verification key
func KeyHash(vkey []byte) []byte {
	h, err := blake2b.New(keyHashLength, nil)
	if err != nil {
		panic(err)
	}
	h.Write(vkey)
	return h.Sum(nil)
}

func decodedOf(tx *staking.UnsignedTransaction) (*Transaction, error) {
	if tx == nil || tx.Chain != staking.ChainCardano {
		return nil, staking.Malformed(staking.ChainCardano, nil, "not a cardano transaction")
	}
	decoded, ok := tx.Decoded.(*Transaction)
	if !ok {
		return nil, staking.Malformed(staking.ChainCardano, nil, "transaction was not parsed by the cardano adapter")
	}
	return decoded, nil
}
