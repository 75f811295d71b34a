package signing_test

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/handlers/signing"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain/ethereum"
	stakesol "github/chapool/go-staking/internal/staking/chain/solana"
	"github/chapool/go-staking/internal/test"
)

func decode(t *testing.T, body []byte) signing.ResultResponse {
	t.Helper()
	var out signing.ResultResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestPostSignEthereum(t *testing.T) {
	b := &test.Broadcaster{}
	test.WithTestServerConfigurable(t, config.DefaultServiceConfigFromEnv(), b, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/transactions/sign", signing.PostSignPayload{
			Chain:    "ethereum",
			Unsigned: "0x" + hex.EncodeToString(test.HoodiDeposit(t)),
			SigningOptions: signing.SigningOptions{
				Key:             test.KeyEthereum,
				Broadcast:       true,
				WaitForFinality: true,
			},
		}, nil)
		require.Equal(t, http.StatusOK, res.Result().StatusCode, res.Body.String())

		out := decode(t, res.Body.Bytes())
		assert.True(t, out.Success)
		assert.Equal(t, "terminal", out.State)
		require.NotNil(t, out.Finality)
		assert.True(t, out.Finality.Success)

		signed, err := hex.DecodeString(out.SignedTransaction)
		require.NoError(t, err)
		sender, err := ethereum.Sender(signed)
		require.NoError(t, err)
		key, err := crypto.HexToECDSA(test.EthereumKey)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
		assert.Equal(t, 1, b.Submitted())
	})
}

func TestPostSignAcceptsBase64(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/transactions/sign", signing.PostSignPayload{
			Chain:          "ethereum",
			Unsigned:       base64.StdEncoding.EncodeToString(test.HoodiDeposit(t)),
			Encoding:       "base64",
			SigningOptions: signing.SigningOptions{Key: test.KeyEthereum},
		}, nil)
		require.Equal(t, http.StatusOK, res.Result().StatusCode, res.Body.String())
		assert.Equal(t, "assembled", decode(t, res.Body.Bytes()).State)

		// without the encoding the payload is read as hex and rejected
		res = test.PerformRequest(t, s, "POST", "/api/v1/transactions/sign", signing.PostSignPayload{
			Chain:          "ethereum",
			Unsigned:       base64.StdEncoding.EncodeToString(test.HoodiDeposit(t)),
			SigningOptions: signing.SigningOptions{Key: test.KeyEthereum},
		}, nil)
		assert.Equal(t, http.StatusBadRequest, res.Result().StatusCode)

		res = test.PerformRequest(t, s, "POST", "/api/v1/transactions/sign", signing.PostSignPayload{
			Chain:    "ethereum",
			Unsigned: "00",
			Encoding: "base58",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, res.Result().StatusCode)
	})
}

func TestPostSignBadRequests(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/transactions/sign", signing.PostSignPayload{Chain: "dogecoin", Unsigned: "00"}, nil)
		assert.Equal(t, http.StatusBadRequest, res.Result().StatusCode)

		res = test.PerformRequest(t, s, "POST", "/api/v1/transactions/sign", signing.PostSignPayload{Chain: "sui", Unsigned: "!!"}, nil)
		assert.Equal(t, http.StatusBadRequest, res.Result().StatusCode)

		// garbage that decodes but does not parse fails in the pipeline
		res = test.PerformRequest(t, s, "POST", "/api/v1/transactions/sign", signing.PostSignPayload{Chain: "cardano", Unsigned: "0xdeadbeef"}, nil)
		require.Equal(t, http.StatusBadRequest, res.Result().StatusCode)
		out := decode(t, res.Body.Bytes())
		require.NotNil(t, out.Error)
		assert.Equal(t, staking.KindMalformedTransaction.String(), out.Error.Type)
		assert.Equal(t, string(staking.StageParse), out.Error.Stage)
	})
}

func TestPostSignRejectedBroadcast(t *testing.T) {
	b := &test.Broadcaster{Err: errors.New("nonce too low")}
	test.WithTestServerConfigurable(t, config.DefaultServiceConfigFromEnv(), b, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/transactions/sign", signing.PostSignPayload{
			Chain:          "ethereum",
			Unsigned:       hex.EncodeToString(test.HoodiDeposit(t)),
			SigningOptions: signing.SigningOptions{Key: test.KeyEthereum, Broadcast: true},
		}, nil)
		require.Equal(t, http.StatusUnprocessableEntity, res.Result().StatusCode)

		out := decode(t, res.Body.Bytes())
		assert.False(t, out.Success)
		assert.Equal(t, "assembled", out.State)
		assert.NotEmpty(t, out.SignedTransaction)
		require.NotNil(t, out.Error)
		assert.Equal(t, staking.KindBroadcastRejected.String(), out.Error.Type)
		assert.Contains(t, out.Error.Title, "nonce too low")
	})
}

func TestPartialThenResume(t *testing.T) {
	b := &test.Broadcaster{}
	test.WithTestServerConfigurable(t, config.DefaultServiceConfigFromEnv(), b, func(s *api.Server) {
		funding := stakesol.Role(test.SolanaKey(1).PublicKey())
		stake := stakesol.Role(test.SolanaKey(2).PublicKey())

		res := test.PerformRequest(t, s, "POST", "/api/v1/transactions/sign", signing.PostSignPayload{
			Chain:    "solana",
			Unsigned: hex.EncodeToString(test.SolanaCreateStake(t)),
			SigningOptions: signing.SigningOptions{
				RoleKeys: map[string]string{string(funding): test.KeySolanaFunding},
				Roles:    []string{string(funding)},
			},
		}, nil)
		require.Equal(t, http.StatusAccepted, res.Result().StatusCode, res.Body.String())

		partial := decode(t, res.Body.Bytes())
		require.NotNil(t, partial.Partial)
		assert.Equal(t, []staking.Role{stake}, partial.Partial.Missing)
		require.NotNil(t, partial.Error)
		assert.Equal(t, staking.KindIncompleteWitnessSet.String(), partial.Error.Type)

		res = test.PerformRequest(t, s, "POST", "/api/v1/transactions/resume", signing.PostResumePayload{
			Partial: partial.Partial,
			SigningOptions: signing.SigningOptions{
				RoleKeys:  map[string]string{string(stake): test.KeySolanaStake},
				Broadcast: true,
			},
		}, nil)
		require.Equal(t, http.StatusOK, res.Result().StatusCode, res.Body.String())

		out := decode(t, res.Body.Bytes())
		assert.True(t, out.Success)
		assert.Equal(t, "broadcast", out.State)
		require.Equal(t, 1, b.Submitted())
		assert.Len(t, b.Sent[0].Witnesses, 2)
	})
}

func TestPostResumeRequiresPartial(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/transactions/resume", signing.PostResumePayload{}, nil)
		assert.Equal(t, http.StatusBadRequest, res.Result().StatusCode)
	})
}

func TestStakingAPIDisabled(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/staking/solana/stake", signing.PostStakePayload{}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, res.Result().StatusCode)

		res = test.PerformRequest(t, s, "GET", "/api/v1/staking/solana/tx/abc", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, res.Result().StatusCode)
	})
}

func TestGetChains(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "GET", "/api/v1/staking/chains", nil, nil)
		require.Equal(t, http.StatusOK, res.Result().StatusCode)

		var out signing.GetChainsResponse
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
		require.Len(t, out.Chains, 4)

		byChain := make(map[string]*signing.ChainItem, len(out.Chains))
		for _, c := range out.Chains {
			byChain[c.Chain] = c
		}
		assert.Equal(t, "secp256k1", byChain["ethereum"].Curve)
		assert.Equal(t, "ed25519", byChain["sui"].Curve)
		assert.Equal(t, []string{"delegate"}, byChain["cardano"].Operations)
		assert.Equal(t, "test", byChain["solana"].Broadcaster)
	})
}
