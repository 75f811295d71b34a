package ethereum

import (
	"context"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/util"
)

var (
	// WithdrawalRequestPredeploy is the EIP-7002 execution layer exit / partial withdrawal contract
	WithdrawalRequestPredeploy = common.HexToAddress("0x00000961Ef480Eb55e80D19ad83579A64c007002")
	// ConsolidationRequestPredeploy is the EIP-7251 consolidation contract
	ConsolidationRequestPredeploy = common.HexToAddress("0x0000BBdDc7CE488642fb579F8B00f3a590007251")
	// DepositContract is the beacon chain deposit contract on mainnet
	DepositContract = common.HexToAddress("0x00000000219ab540356cbb839cbe05303d7705fa")
)

const (
	validatorPubkeyLength = 48
	defaultRequestGas     = 100_000
	baseFeeMultiplier     = 2
)

// ErrFeeLimitExceeded is returned when the predeploy fee is above the caller's limit
var ErrFeeLimitExceeded = errors.New("request fee exceeds limit")

// RequestBuilder builds unsigned EIP-1559 transactions for execution layer triggered requests
type RequestBuilder struct {
	backend  Backend
	gasLimit uint64
}

// NewRequestBuilder creates a builder using backend for nonce, fee and gas data.
// gasLimit 0 estimates gas through the backend, falling back to 100000.
func NewRequestBuilder(backend Backend, gasLimit uint64) *RequestBuilder {
	return &RequestBuilder{backend: backend, gasLimit: gasLimit}
}

// WithdrawalRequestData encodes pubkey(48) || amount(8, big endian gwei). Amount 0 requests a full exit.
func WithdrawalRequestData(validatorPubkey []byte, amountGwei uint64) ([]byte, error) {
	if len(validatorPubkey) != validatorPubkeyLength {
		return nil, errors.Errorf("validator pubkey must be %d bytes, got %d", validatorPubkeyLength, len(validatorPubkey))
	}

	data := make([]byte, validatorPubkeyLength+8)
	copy(data, validatorPubkey)
	binary.BigEndian.PutUint64(data[validatorPubkeyLength:], amountGwei)
	return data, nil
}

// ConsolidationRequestData encodes source(48) || target(48)
func ConsolidationRequestData(sourcePubkey []byte, targetPubkey []byte) ([]byte, error) {
	if len(sourcePubkey) != validatorPubkeyLength || len(targetPubkey) != validatorPubkeyLength {
		return nil, errors.Errorf("validator pubkeys must be %d bytes", validatorPubkeyLength)
	}

	data := make([]byte, 0, 2*validatorPubkeyLength)
	data = append(data, sourcePubkey...)
	data = append(data, targetPubkey...)
	return data, nil
}

// BuildWithdrawalRequest builds an unsigned EIP-7002 request from the validator's withdrawal address
func (b *RequestBuilder) BuildWithdrawalRequest(ctx context.Context, from common.Address, validatorPubkey []byte, amountGwei uint64, feeLimit *big.Int) ([]byte, error) {
	data, err := WithdrawalRequestData(validatorPubkey, amountGwei)
	if err != nil {
		return nil, err
	}
	return b.buildRequest(ctx, from, WithdrawalRequestPredeploy, data, feeLimit)
}

// BuildConsolidationRequest builds an unsigned EIP-7251 request from the source validator's withdrawal address
func (b *RequestBuilder) BuildConsolidationRequest(ctx context.Context, from common.Address, sourcePubkey []byte, targetPubkey []byte, feeLimit *big.Int) ([]byte, error) {
	data, err := ConsolidationRequestData(sourcePubkey, targetPubkey)
	if err != nil {
		return nil, err
	}
	return b.buildRequest(ctx, from, ConsolidationRequestPredeploy, data, feeLimit)
}

// RequestFee reads the current fee of a request predeploy (a call with empty calldata)
func (b *RequestBuilder) RequestFee(ctx context.Context, predeploy common.Address) (*big.Int, error) {
	out, err := b.backend.CallContract(ctx, ethereum.CallMsg{To: &predeploy})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read request fee")
	}
	return new(big.Int).SetBytes(out), nil
}

func (b *RequestBuilder) buildRequest(ctx context.Context, from common.Address, to common.Address, data []byte, feeLimit *big.Int) ([]byte, error) {
	fee, err := b.RequestFee(ctx, to)
	if err != nil {
		return nil, err
	}
	if feeLimit != nil && fee.Cmp(feeLimit) > 0 {
		return nil, errors.Wrapf(ErrFeeLimitExceeded, "fee %s wei > limit %s wei", fee, feeLimit)
	}
	return b.buildCall(ctx, from, to, fee, data)
}

// buildCall populates chain id, nonce, fees and gas for a contract call carrying value
func (b *RequestBuilder) buildCall(ctx context.Context, from common.Address, to common.Address, value *big.Int, data []byte) ([]byte, error) {
	log := util.LogFromContext(ctx)

	chainID, err := b.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := b.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, err
	}

	tip, err := b.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}

	baseFee, err := b.backend.BaseFee(ctx)
	if err != nil {
		return nil, err
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(baseFeeMultiplier)), tip)

	gas := b.gasLimit
	if gas == 0 {
		gas, err = b.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		if err != nil {
			log.Warn().Err(err).Str("to", to.Hex()).Msg("Gas estimation failed, using default request gas")
			gas = defaultRequestGas
		}
	}

	log.Debug().
		Str("to", to.Hex()).
		Str("value", value.String()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Msg("Built execution layer transaction")

	return EncodeUnsigned(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
}

// EncodeUnsigned serializes an EIP-1559 transaction in its unsigned envelope form, 0x02 || rlp(fields)
func EncodeUnsigned(tx *types.DynamicFeeTx) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(&dynamicFeeUnsigned{
		ChainID:    tx.ChainID,
		Nonce:      tx.Nonce,
		GasTipCap:  tx.GasTipCap,
		GasFeeCap:  tx.GasFeeCap,
		Gas:        tx.Gas,
		To:         tx.To,
		Value:      tx.Value,
		Data:       tx.Data,
		AccessList: tx.AccessList,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode unsigned transaction")
	}

	return append([]byte{types.DynamicFeeTxType}, payload...), nil
}
