package broadcast_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/broadcast"
	"github/chapool/go-staking/internal/staking/stakingapi"
	"github/chapool/go-staking/internal/util"
)

var fastPoll = util.PollConfig{Interval: time.Millisecond, MaxAttempts: 3}

type fakeStakingAPI struct {
	stakingapi.Service
	statuses []string
	calls    int
}

func (f *fakeStakingAPI) Broadcast(_ context.Context, _ *staking.SignedTransaction) (string, error) {
	return "0xabc", nil
}

func (f *fakeStakingAPI) TxStatus(_ context.Context, _ staking.ChainKind, hash string) (*stakingapi.TxStatus, error) {
	status := f.statuses[f.calls]
	f.calls++
	return &stakingapi.TxStatus{Hash: hash, Status: status}, nil
}

func TestAPIWaitForFinality(t *testing.T) {
	api := &fakeStakingAPI{statuses: []string{"pending", "confirmed"}}
	b := broadcast.NewAPI(api, fastPoll)

	hash, err := b.Broadcast(context.Background(), &staking.SignedTransaction{Chain: staking.ChainSolana})
	require.NoError(t, err)

	final, err := b.WaitForFinality(context.Background(), staking.ChainSolana, hash)
	require.NoError(t, err)
	assert.True(t, final.Success)
	assert.Equal(t, 2, api.calls)

	api = &fakeStakingAPI{statuses: []string{"failed"}}
	final, err = broadcast.NewAPI(api, fastPoll).WaitForFinality(context.Background(), staking.ChainSolana, hash)
	require.ErrorIs(t, err, staking.ErrBroadcastRejected)
	assert.False(t, final.Success)

	api = &fakeStakingAPI{statuses: []string{"pending", "pending", "pending"}}
	final, err = broadcast.NewAPI(api, fastPoll).WaitForFinality(context.Background(), staking.ChainSolana, hash)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrPollExhausted)
	assert.Equal(t, broadcast.StatusTimeout, final.Status)
	assert.Equal(t, 3, api.calls)
}

type fakeBackend struct {
	sendErr  error
	sent     *types.Transaction
	receipts []*types.Receipt
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(560048), nil }
func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeBackend) BaseFee(context.Context) (*big.Int, error)          { return big.NewInt(1), nil }
func (f *fakeBackend) EstimateGas(context.Context, goethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeBackend) CallContract(context.Context, goethereum.CallMsg) ([]byte, error) {
	return nil, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = tx
	return f.sendErr
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if len(f.receipts) == 0 || f.receipts[0] == nil {
		if len(f.receipts) > 0 {
			f.receipts = f.receipts[1:]
		}
		return nil, goethereum.NotFound
	}
	r := f.receipts[0]
	f.receipts = f.receipts[1:]
	return r, nil
}

func signedEthereumTx(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chainID := big.NewInt(560048)
	to := common.HexToAddress("0x00000961Ef480Eb55e80D19ad83579A64c007002")
	tx, err := types.SignNewTx(key, types.NewLondonSigner(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       200000,
		To:        &to,
		Value:     big.NewInt(1),
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func TestEthereumBroadcast(t *testing.T) {
	backend := &fakeBackend{receipts: []*types.Receipt{nil, {Status: types.ReceiptStatusSuccessful}}}
	b := broadcast.NewEthereum(backend, fastPoll)

	raw := signedEthereumTx(t)
	hash, err := b.Broadcast(context.Background(), &staking.SignedTransaction{Chain: staking.ChainEthereum, Raw: raw})
	require.NoError(t, err)
	require.NotNil(t, backend.sent)
	assert.Equal(t, backend.sent.Hash().Hex(), hash)

	final, err := b.WaitForFinality(context.Background(), staking.ChainEthereum, hash)
	require.NoError(t, err)
	assert.True(t, final.Success)

	backend = &fakeBackend{receipts: []*types.Receipt{{Status: types.ReceiptStatusFailed}}}
	_, err = broadcast.NewEthereum(backend, fastPoll).WaitForFinality(context.Background(), staking.ChainEthereum, hash)
	assert.ErrorIs(t, err, staking.ErrBroadcastRejected)
}

func TestEthereumRejectionIsVerbatim(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("nonce too low: next nonce 4, tx nonce 3")}
	_, err := broadcast.NewEthereum(backend, fastPoll).Broadcast(context.Background(), &staking.SignedTransaction{
		Chain: staking.ChainEthereum,
		Raw:   signedEthereumTx(t),
	})
	require.ErrorIs(t, err, staking.ErrBroadcastRejected)
	assert.Contains(t, err.Error(), "nonce too low: next nonce 4, tx nonce 3")

	_, err = broadcast.NewEthereum(backend, fastPoll).Broadcast(context.Background(), &staking.SignedTransaction{
		Chain: staking.ChainEthereum,
		Raw:   []byte{0x02, 0xff},
	})
	assert.ErrorIs(t, err, staking.ErrMalformedTransaction)
}

type fakeSolanaRPC struct {
	raw      []byte
	statuses []*rpc.SignatureStatusesResult
}

func (f *fakeSolanaRPC) SendRawTransactionWithOpts(_ context.Context, rawTx []byte, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.raw = rawTx
	var sig solana.Signature
	sig[0] = 9
	return sig, nil
}

func (f *fakeSolanaRPC) GetSignatureStatuses(_ context.Context, _ bool, _ ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	status := f.statuses[0]
	f.statuses = f.statuses[1:]
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

func TestSolanaBroadcast(t *testing.T) {
	client := &fakeSolanaRPC{statuses: []*rpc.SignatureStatusesResult{
		nil,
		{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
		{ConfirmationStatus: rpc.ConfirmationStatusFinalized},
	}}
	b := broadcast.NewSolana(client, fastPoll)

	hash, err := b.Broadcast(context.Background(), &staking.SignedTransaction{Chain: staking.ChainSolana, Raw: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, client.raw)

	final, err := b.WaitForFinality(context.Background(), staking.ChainSolana, hash)
	require.NoError(t, err)
	assert.Equal(t, "finalized", final.Status)

	client = &fakeSolanaRPC{statuses: []*rpc.SignatureStatusesResult{{Err: map[string]any{"InstructionError": 0}}}}
	_, err = broadcast.NewSolana(client, fastPoll).WaitForFinality(context.Background(), staking.ChainSolana, hash)
	assert.ErrorIs(t, err, staking.ErrBroadcastRejected)

	_, err = b.WaitForFinality(context.Background(), staking.ChainSolana, "not-base58!")
	assert.ErrorIs(t, err, staking.ErrMalformedTransaction)
}

func TestBlockfrostSubmit(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "preprod-key", r.Header.Get("project_id"))
		switch r.URL.Path {
		case "/tx/submit":
			assert.Equal(t, "application/cbor", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			if bytes.Equal(body, []byte{0x85}) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"status_code":400,"message":"BadInputsUTxO"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`"d1a2"`))
		default:
			polls++
			if polls == 1 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"hash":"d1a2","block":"b10c","valid_contract":true}`))
		}
	}))
	defer srv.Close()

	b, err := broadcast.NewBlockfrost(srv.URL, "preprod-key", fastPoll)
	require.NoError(t, err)

	hash, err := b.Broadcast(context.Background(), &staking.SignedTransaction{Chain: staking.ChainCardano, Raw: []byte{0x84}})
	require.NoError(t, err)
	assert.Equal(t, "d1a2", hash)

	final, err := b.WaitForFinality(context.Background(), staking.ChainCardano, hash)
	require.NoError(t, err)
	assert.True(t, final.Success)
	assert.Equal(t, 2, polls)

	// the node's reason is reported verbatim
	_, err = b.Broadcast(context.Background(), &staking.SignedTransaction{Chain: staking.ChainCardano, Raw: []byte{0x85}})
	require.ErrorIs(t, err, staking.ErrBroadcastRejected)
	assert.Contains(t, err.Error(), "BadInputsUTxO")

	_, err = b.Broadcast(context.Background(), &staking.SignedTransaction{Chain: staking.ChainCardano})
	require.ErrorIs(t, err, staking.ErrBroadcastRejected)
	assert.Contains(t, err.Error(), "empty")

	_, err = broadcast.NewBlockfrost("", "", fastPoll)
	assert.Error(t, err)
}

func TestSuiExecute(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		methods = append(methods, req.Method)
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "sui_executeTransactionBlock":
			var sigs []string
			assert.NoError(t, json.Unmarshal(req.Params[1], &sigs))
			if len(sigs) == 2 {
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Invalid user signature"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"digest":"ARGw","effects":{"status":{"status":"success"}}}}`))
		default:
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":{"digest":"ARGw","effects":{"status":{"status":"success"}}}}`))
		}
	}))
	defer srv.Close()

	b := broadcast.NewSui(srv.URL, fastPoll)
	hash, err := b.Broadcast(context.Background(), &staking.SignedTransaction{
		Chain:      staking.ChainSui,
		Unsigned:   []byte{0},
		Signatures: []string{"AAAA"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ARGw", hash)

	final, err := b.WaitForFinality(context.Background(), staking.ChainSui, hash)
	require.NoError(t, err)
	assert.True(t, final.Success)

	_, err = b.Broadcast(context.Background(), &staking.SignedTransaction{
		Chain:      staking.ChainSui,
		Unsigned:   []byte{0},
		Signatures: []string{"AAAA", "BBBB"},
	})
	require.ErrorIs(t, err, staking.ErrBroadcastRejected)
	assert.Contains(t, err.Error(), "Invalid user signature")
	assert.Equal(t, []string{"sui_executeTransactionBlock", "sui_getTransactionBlock", "sui_executeTransactionBlock"}, methods)
}

func TestRouter(t *testing.T) {
	api := &fakeStakingAPI{statuses: []string{"success"}}
	router := broadcast.NewRouter(map[staking.ChainKind]broadcast.Route{
		staking.ChainEthereum: broadcast.NewRoute(broadcast.NewAPI(api, fastPoll)),
		staking.ChainSolana:   {Broadcaster: broadcast.NewAPI(api, fastPoll)},
	})

	hash, err := router.Broadcast(context.Background(), &staking.SignedTransaction{Chain: staking.ChainEthereum})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", hash)
	assert.Equal(t, "staking_api", router.BroadcasterName(staking.ChainEthereum))

	final, err := router.WaitForFinality(context.Background(), staking.ChainEthereum, hash)
	require.NoError(t, err)
	assert.True(t, final.Success)

	final, err = router.WaitForFinality(context.Background(), staking.ChainSolana, hash)
	require.NoError(t, err)
	assert.Equal(t, broadcast.StatusPending, final.Status)

	_, err = router.Broadcast(context.Background(), &staking.SignedTransaction{Chain: staking.ChainSui})
	assert.ErrorIs(t, err, staking.ErrBroadcastRejected)
}
