package ethereum_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	staketh "github/chapool/go-staking/internal/staking/chain/ethereum"
)

type fakeBackend struct {
	fee      *big.Int
	estimate uint64
	calls    []ethereum.CallMsg
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(hoodiChainID), nil }
func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 3, nil
}
func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2), nil
}
func (f *fakeBackend) BaseFee(context.Context) (*big.Int, error) { return big.NewInt(10), nil }
func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate == 0 {
		return 0, errors.New("estimation unavailable")
	}
	return f.estimate, nil
}
func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.calls = append(f.calls, msg)
	return f.fee.Bytes(), nil
}
func (f *fakeBackend) SendTransaction(context.Context, *types.Transaction) error { return nil }
func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func validatorPubkey(b byte) []byte {
	pk := make([]byte, 48)
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func TestWithdrawalRequestData(t *testing.T) {
	data, err := staketh.WithdrawalRequestData(validatorPubkey(0xaa), 0)
	require.NoError(t, err)
	require.Len(t, data, 56)
	assert.Equal(t, make([]byte, 8), data[48:])

	data, err = staketh.WithdrawalRequestData(validatorPubkey(0xaa), 1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0x3b, 0x9a, 0xca, 0x00}, data[48:])

	_, err = staketh.WithdrawalRequestData(make([]byte, 47), 0)
	assert.Error(t, err)
}

func TestBuildWithdrawalRequest(t *testing.T) {
	backend := &fakeBackend{fee: big.NewInt(1)}
	builder := staketh.NewRequestBuilder(backend, 0)
	from := common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")

	raw, err := builder.BuildWithdrawalRequest(t.Context(), from, validatorPubkey(0x01), 0, nil)
	require.NoError(t, err)

	tx, err := staketh.NewAdapter().ParseUnsigned(raw)
	require.NoError(t, err)

	decoded := tx.Decoded.(*staketh.Transaction)
	assert.Equal(t, staketh.WithdrawalRequestPredeploy, *decoded.Tx.To())
	assert.Equal(t, int64(1), decoded.Tx.Value().Int64())
	assert.Equal(t, uint64(3), decoded.Tx.Nonce())
	assert.Equal(t, uint64(100_000), decoded.Tx.Gas())
	assert.Equal(t, int64(22), decoded.Tx.GasFeeCap().Int64())
	assert.Len(t, decoded.Tx.Data(), 56)

	require.Len(t, backend.calls, 1)
	assert.Empty(t, backend.calls[0].Data)
}

func TestBuildConsolidationRequestFeeLimit(t *testing.T) {
	backend := &fakeBackend{fee: big.NewInt(500), estimate: 90_000}
	builder := staketh.NewRequestBuilder(backend, 0)

	_, err := builder.BuildConsolidationRequest(t.Context(), common.Address{}, validatorPubkey(1), validatorPubkey(2), big.NewInt(100))
	assert.ErrorIs(t, err, staketh.ErrFeeLimitExceeded)

	raw, err := builder.BuildConsolidationRequest(t.Context(), common.Address{}, validatorPubkey(1), validatorPubkey(2), big.NewInt(1000))
	require.NoError(t, err)

	tx, err := staketh.NewAdapter().ParseUnsigned(raw)
	require.NoError(t, err)
	decoded := tx.Decoded.(*staketh.Transaction)
	assert.Equal(t, staketh.ConsolidationRequestPredeploy, *decoded.Tx.To())
	assert.Equal(t, uint64(90_000), decoded.Tx.Gas())
	assert.Len(t, decoded.Tx.Data(), 96)
}
