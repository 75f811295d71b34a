package ethereum

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/pkg/errors"
)

const (
	withdrawalCredentialsLength = 32
	depositSignatureLength      = 96
	// MinDepositGwei is the smallest amount the deposit contract accepts
	MinDepositGwei = 1_000_000_000
)

const depositContractABI = `[{"type":"function","name":"deposit","stateMutability":"payable","outputs":[],"inputs":[
	{"name":"pubkey","type":"bytes"},
	{"name":"withdrawal_credentials","type":"bytes"},
	{"name":"signature","type":"bytes"},
	{"name":"deposit_data_root","type":"bytes32"}]}]`

var depositABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(depositContractABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Deposit is beacon chain DepositData. Zero withdrawal credentials and signature top up an existing validator.
type Deposit struct {
	ValidatorPubkey       []byte
	WithdrawalCredentials []byte
	Signature             []byte
	AmountGwei            uint64
}

// TopUp is the launchpad style top-up of an existing validator
func TopUp(validatorPubkey []byte, amountGwei uint64) Deposit {
	return Deposit{
		ValidatorPubkey:       validatorPubkey,
		WithdrawalCredentials: make([]byte, withdrawalCredentialsLength),
		Signature:             make([]byte, depositSignatureLength),
		AmountGwei:            amountGwei,
	}
}

func (d Deposit) validate() error {
	switch {
	case len(d.ValidatorPubkey) != validatorPubkeyLength:
		return errors.Errorf("validator pubkey must be %d bytes, got %d", validatorPubkeyLength, len(d.ValidatorPubkey))
	case len(d.WithdrawalCredentials) != withdrawalCredentialsLength:
		return errors.Errorf("withdrawal credentials must be %d bytes, got %d", withdrawalCredentialsLength, len(d.WithdrawalCredentials))
	case len(d.Signature) != depositSignatureLength:
		return errors.Errorf("deposit signature must be %d bytes, got %d", depositSignatureLength, len(d.Signature))
	case d.AmountGwei < MinDepositGwei:
		return errors.Errorf("deposit amount %d gwei is below the 1 ETH minimum", d.AmountGwei)
	}
	return nil
}

// DataRoot is the SSZ hash_tree_root of the DepositData container
func (d Deposit) DataRoot() ([32]byte, error) {
	if err := d.validate(); err != nil {
		return [32]byte{}, err
	}

	var amount [32]byte
	binary.LittleEndian.PutUint64(amount[:], d.AmountGwei)

	pubkey := merkleize(chunks(d.ValidatorPubkey))
	signature := merkleize(chunks(d.Signature))
	var credentials [32]byte
	copy(credentials[:], d.WithdrawalCredentials)

	return merkleize([][32]byte{pubkey, credentials, amount, signature}), nil
}

// CallData encodes deposit(pubkey, withdrawal_credentials, signature, deposit_data_root)
func (d Deposit) CallData() ([]byte, error) {
	root, err := d.DataRoot()
	if err != nil {
		return nil, err
	}
	data, err := depositABI.Pack("deposit", d.ValidatorPubkey, d.WithdrawalCredentials, d.Signature, root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode deposit call")
	}
	return data, nil
}

// Wei is the transaction value carrying the deposit
func (d Deposit) Wei() *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(d.AmountGwei), big.NewInt(params.GWei))
}

// BuildDepositRequest builds an unsigned call to the deposit contract carrying the deposit amount
func (b *RequestBuilder) BuildDepositRequest(ctx context.Context, from common.Address, deposit Deposit) ([]byte, error) {
	data, err := deposit.CallData()
	if err != nil {
		return nil, err
	}
	return b.buildCall(ctx, from, DepositContract, deposit.Wei(), data)
}

// chunks splits b into zero padded 32 byte chunks
func chunks(b []byte) [][32]byte {
	out := make([][32]byte, (len(b)+31)/32)
	for i := range out {
		copy(out[i][:], b[i*32:])
	}
	return out
}

// merkleize hashes chunks pairwise after padding them with zero chunks to a power of two
func merkleize(nodes [][32]byte) [32]byte {
	width := 1
	for width < len(nodes) {
		width *= 2
	}
	for len(nodes) < width {
		nodes = append(nodes, [32]byte{})
	}

	for len(nodes) > 1 {
		next := make([][32]byte, len(nodes)/2)
		for i := range next {
			next[i] = sha256.Sum256(append(nodes[2*i][:], nodes[2*i+1][:]...))
		}
		nodes = next
	}
	return nodes[0]
}
