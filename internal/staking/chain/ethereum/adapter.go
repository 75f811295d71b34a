package ethereum

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain"
)

const (
	signatureLength = 64
	publicKeyLength = 33
)

// Transaction is the decoded form of an unsigned Ethereum envelope
type Transaction struct {
	Tx      *types.Transaction
	Signer  types.Signer
	ChainID *big.Int // nil for pre-EIP-155 legacy transactions
}

// unsigned payload layouts, see EIP-2718 / EIP-2930 / EIP-1559 / EIP-155
type dynamicFeeUnsigned struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
}

type accessListUnsigned struct {
	ChainID    *big.Int
	Nonce      uint64
	GasPrice   *big.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
}

type legacyUnsigned struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       *common.Address `rlp:"nil"`
	Value    *big.Int
	Data     []byte
	ChainID  *big.Int `rlp:"optional"`
	Zero1    *big.Int `rlp:"optional"`
	Zero2    *big.Int `rlp:"optional"`
}

type adapter struct{}

// NewAdapter creates the Ethereum chain adapter
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewAdapter() chain.Adapter {
	return &adapter{}
}

func (a *adapter) Chain() staking.ChainKind {
	return staking.ChainEthereum
}

// ParseUnsigned decodes an unsigned legacy, EIP-2930 or EIP-1559 envelope
func (a *adapter) ParseUnsigned(raw []byte) (*staking.UnsignedTransaction, error) {
	if len(raw) == 0 {
		return nil, staking.Malformed(staking.ChainEthereum, nil, "empty transaction")
	}

	decoded, err := decodeUnsigned(raw)
	if err != nil {
		return nil, staking.Malformed(staking.ChainEthereum, err, "failed to decode unsigned envelope")
	}

	// the envelope must be canonical, otherwise the signing hash would not cover raw
	if got := decoded.Signer.Hash(decoded.Tx); !bytes.Equal(got.Bytes(), crypto.Keccak256(raw)) {
		return nil, staking.Malformed(staking.ChainEthereum, nil, "non-canonical unsigned envelope")
	}

	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)

	return &staking.UnsignedTransaction{
		Chain:   staking.ChainEthereum,
		Raw:     rawCopy,
		Decoded: decoded,
	}, nil
}

func decodeUnsigned(raw []byte) (*Transaction, error) {
	switch {
	case raw[0] == types.DynamicFeeTxType:
		var p dynamicFeeUnsigned
		if err := rlp.DecodeBytes(raw[1:], &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode EIP-1559 payload")
		}
		if p.ChainID == nil || p.ChainID.Sign() <= 0 {
			return nil, errors.New("EIP-1559 transaction without chain id")
		}
		//nolint:varnamelen // tx is a common abbreviation for transaction
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:    p.ChainID,
			Nonce:      p.Nonce,
			GasTipCap:  p.GasTipCap,
			GasFeeCap:  p.GasFeeCap,
			Gas:        p.Gas,
			To:         p.To,
			Value:      p.Value,
			Data:       p.Data,
			AccessList: p.AccessList,
		})
		return &Transaction{Tx: tx, Signer: types.LatestSignerForChainID(p.ChainID), ChainID: p.ChainID}, nil

	case raw[0] == types.AccessListTxType:
		var p accessListUnsigned
		if err := rlp.DecodeBytes(raw[1:], &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode EIP-2930 payload")
		}
		if p.ChainID == nil || p.ChainID.Sign() <= 0 {
			return nil, errors.New("EIP-2930 transaction without chain id")
		}
		//nolint:varnamelen // tx is a common abbreviation for transaction
		tx := types.NewTx(&types.AccessListTx{
			ChainID:    p.ChainID,
			Nonce:      p.Nonce,
			GasPrice:   p.GasPrice,
			Gas:        p.Gas,
			To:         p.To,
			Value:      p.Value,
			Data:       p.Data,
			AccessList: p.AccessList,
		})
		return &Transaction{Tx: tx, Signer: types.LatestSignerForChainID(p.ChainID), ChainID: p.ChainID}, nil

	case raw[0] >= 0xc0:
		var p legacyUnsigned
		if err := rlp.DecodeBytes(raw, &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode legacy payload")
		}
		//nolint:varnamelen // tx is a common abbreviation for transaction
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    p.Nonce,
			GasPrice: p.GasPrice,
			Gas:      p.Gas,
			To:       p.To,
			Value:    p.Value,
			Data:     p.Data,
		})
		if p.ChainID == nil {
			return &Transaction{Tx: tx, Signer: types.HomesteadSigner{}}, nil
		}
		if p.ChainID.Sign() <= 0 || p.Zero1 == nil || p.Zero2 == nil || p.Zero1.Sign() != 0 || p.Zero2.Sign() != 0 {
			return nil, errors.New("invalid EIP-155 signing fields")
		}
		return &Transaction{Tx: tx, Signer: types.NewEIP155Signer(p.ChainID), ChainID: p.ChainID}, nil

	default:
		return nil, errors.Errorf("unsupported transaction type 0x%02x", raw[0])
	}
}

// DeriveDigest returns the Keccak256 signing hash of the envelope
func (a *adapter) DeriveDigest(tx *staking.UnsignedTransaction) (*staking.SigningDigest, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}
	hash := decoded.Signer.Hash(decoded.Tx)
	return staking.NewSigningDigest(staking.ChainEthereum, hash.Bytes()), nil
}

// RequiredRoles returns the single sender role
func (a *adapter) RequiredRoles(_ *staking.UnsignedTransaction) ([]staking.RoleRequirement, error) {
	return []staking.RoleRequirement{{Role: staking.RoleSender}}, nil
}

// AssembleSigned attaches the sender signature and returns the RLP encoded signed envelope
func (a *adapter) AssembleSigned(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.SignedTransaction, error) {
	decoded, err := decodedOf(tx)
	if err != nil {
		return nil, err
	}

	roles, _ := a.RequiredRoles(tx)
	byRole, missing, err := chain.MatchWitnesses(staking.ChainEthereum, roles, witnesses)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, chain.Incomplete(staking.ChainEthereum, missing)
	}

	witness := byRole[staking.RoleSender]
	hash := decoded.Signer.Hash(decoded.Tx)

	sig, err := recoverableSignature(hash.Bytes(), witness)
	if err != nil {
		return nil, err
	}

	signedTx, err := decoded.Tx.WithSignature(decoded.Signer, sig)
	if err != nil {
		return nil, staking.NewError(staking.KindSignatureMismatch, staking.ChainEthereum, "failed to attach signature", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal transaction")
	}

	return &staking.SignedTransaction{
		Chain:     staking.ChainEthereum,
		Raw:       raw,
		Unsigned:  tx.Raw,
		Hash:      signedTx.Hash().Hex(),
		Witnesses: []staking.Witness{witness},
	}, nil
}

// AssemblePartial never has a chain-native form on Ethereum, the single role is either present or missing
func (a *adapter) AssemblePartial(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.PartialTransaction, error) {
	roles, _ := a.RequiredRoles(tx)
	byRole, missing, err := chain.MatchWitnesses(staking.ChainEthereum, roles, witnesses)
	if err != nil {
		return nil, err
	}

	kept := make([]staking.Witness, 0, len(byRole))
	for _, r := range roles {
		if w, ok := byRole[r.Role]; ok {
			kept = append(kept, w)
		}
	}

	return &staking.PartialTransaction{
		Chain:     staking.ChainEthereum,
		Unsigned:  tx.Raw,
		Witnesses: kept,
		Missing:   missing,
	}, nil
}

// ExtractWitnesses recovers the sender witness from a signed envelope
func (a *adapter) ExtractWitnesses(signed []byte) ([]staking.Witness, error) {
	//nolint:varnamelen // tx is a common abbreviation for transaction
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return nil, staking.Malformed(staking.ChainEthereum, err, "failed to decode signed transaction")
	}

	signer := signerFor(tx)
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return nil, staking.Malformed(staking.ChainEthereum, err, "failed to recover sender")
	}

	hash := signer.Hash(tx)
	_, r, s := tx.RawSignatureValues()
	sig := make([]byte, 0, signatureLength+1)
	sig = append(sig, common.LeftPadBytes(r.Bytes(), 32)...)
	sig = append(sig, common.LeftPadBytes(s.Bytes(), 32)...)

	for v := byte(0); v <= 1; v++ {
		pub, err := crypto.SigToPub(hash.Bytes(), append(append([]byte{}, sig...), v))
		if err != nil || crypto.PubkeyToAddress(*pub) != sender {
			continue
		}
		recID := v
		return []staking.Witness{{
			Role:      staking.RoleSender,
			PublicKey: staking.PublicKey{Curve: staking.CurveSecp256k1, Bytes: crypto.CompressPubkey(pub)},
			Signature: staking.Signature{Bytes: sig, RecoveryID: &recID},
		}}, nil
	}

	return nil, staking.Malformed(staking.ChainEthereum, nil, "failed to recover signer public key")
}

// Sender recovers the sender address of a signed envelope
func Sender(signed []byte) (common.Address, error) {
	//nolint:varnamelen // tx is a common abbreviation for transaction
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Address{}, errors.Wrap(err, "failed to decode signed transaction")
	}
	sender, err := types.Sender(signerFor(tx), tx)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to recover sender")
	}
	return sender, nil
}

func signerFor(tx *types.Transaction) types.Signer {
	if tx.Type() == types.LegacyTxType && !tx.Protected() {
		return types.HomesteadSigner{}
	}
	return types.LatestSignerForChainID(tx.ChainId())
}

// recoverableSignature returns R||S||V, deriving V when the signer did not report it
func recoverableSignature(hash []byte, witness staking.Witness) ([]byte, error) {
	if len(witness.Signature.Bytes) != signatureLength {
		return nil, &staking.PipelineError{
			Kind:    staking.KindSignatureMismatch,
			Chain:   staking.ChainEthereum,
			Role:    witness.Role,
			Message: "signature must be 64 bytes",
		}
	}

	expected, err := PublicKeyAddress(witness.PublicKey.Bytes)
	if err != nil {
		return nil, &staking.PipelineError{Kind: staking.KindSignatureMismatch, Chain: staking.ChainEthereum, Role: witness.Role, Err: err}
	}

	candidates := []byte{0, 1}
	if id := witness.Signature.RecoveryID; id != nil {
		candidates = []byte{normalizeRecoveryID(*id)}
	}

	for _, v := range candidates {
		sig := append(append(make([]byte, 0, signatureLength+1), witness.Signature.Bytes...), v)
		pub, err := crypto.SigToPub(hash, sig)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*pub) == expected {
			return sig, nil
		}
	}

	return nil, &staking.PipelineError{
		Kind:    staking.KindSignatureMismatch,
		Chain:   staking.ChainEthereum,
		Role:    witness.Role,
		Message: "signature does not recover to the signer address",
	}
}

// normalizeRecoveryID maps 27/28 style values onto 0/1
func normalizeRecoveryID(v byte) byte {
	if v >= 27 {
		return v - 27
	}
	return v
}

// PublicKeyAddress derives the Ethereum address of a compressed or uncompressed secp256k1 key
func PublicKeyAddress(pub []byte) (common.Address, error) {
	switch len(pub) {
	case publicKeyLength:
		key, err := crypto.DecompressPubkey(pub)
		if err != nil {
			return common.Address{}, errors.Wrap(err, "failed to decompress public key")
		}
		return crypto.PubkeyToAddress(*key), nil
	case 65:
		key, err := crypto.UnmarshalPubkey(pub)
		if err != nil {
			return common.Address{}, errors.Wrap(err, "failed to unmarshal public key")
		}
		return crypto.PubkeyToAddress(*key), nil
	default:
		return common.Address{}, errors.Errorf("invalid secp256k1 public key length %d", len(pub))
	}
}

func decodedOf(tx *staking.UnsignedTransaction) (*Transaction, error) {
	if tx == nil || tx.Chain != staking.ChainEthereum {
		return nil, staking.Malformed(staking.ChainEthereum, nil, "not an ethereum transaction")
	}
	decoded, ok := tx.Decoded.(*Transaction)
	if !ok {
		return nil, staking.Malformed(staking.ChainEthereum, nil, "transaction was not parsed by the ethereum adapter")
	}
	return decoded, nil
}
