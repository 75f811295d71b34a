package custodian_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/signer"
	"github/chapool/go-staking/internal/staking/signer/custodian"
	"github/chapool/go-staking/internal/staking/verify"
)

type fakeCustodian struct {
	t          *testing.T
	rsaPub     *rsa.PublicKey
	pendingFor int32
	finalState string
	sign       func(content string, change *int) map[string]any

	mu       sync.Mutex
	created  map[string]any
	polls    atomic.Int32
	cancels  atomic.Int32
	messages []map[string]any
}

func (f *fakeCustodian) checkToken(r *http.Request, body []byte) {
	assert.Equal(f.t, "api-key", r.Header.Get("X-API-Key"))
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return f.rsaPub, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	assert.NoError(f.t, err)

	sum := sha256.Sum256(body)
	assert.Equal(f.t, hex.EncodeToString(sum[:]), claims["bodyHash"])
	assert.Equal(f.t, r.URL.Path, claims["uri"])
	assert.Equal(f.t, "api-key", claims["sub"])
	assert.NotEmpty(f.t, claims["nonce"])
}

func (f *fakeCustodian) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.checkToken(r, body)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/transactions":
		var req map[string]any
		if !assert.NoError(f.t, json.Unmarshal(body, &req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.created = req
		raw := req["extraParameters"].(map[string]any)["rawMessageData"].(map[string]any)
		for _, m := range raw["messages"].([]any) {
			f.messages = append(f.messages, m.(map[string]any))
		}
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"tx-1","status":"SUBMITTED"}`))

	case r.Method == http.MethodGet && r.URL.Path == "/v1/transactions/tx-1":
		n := f.polls.Add(1)
		if n <= f.pendingFor {
			_, _ = w.Write([]byte(`{"id":"tx-1","status":"PENDING_SIGNATURE"}`))
			return
		}
		resp := map[string]any{"id": "tx-1", "status": f.finalState}
		if f.finalState == custodian.StatusCompleted {
			var signed []any
			f.mu.Lock()
			for _, m := range f.messages {
				var change *int
				if c, ok := m["bip44change"]; ok {
					v := int(c.(float64))
					change = &v
				}
				signed = append(signed, f.sign(m["content"].(string), change))
			}
			f.mu.Unlock()
			resp["signedMessages"] = signed
		}
		assert.NoError(f.t, json.NewEncoder(w).Encode(resp))

	case r.Method == http.MethodPost && r.URL.Path == "/v1/transactions/tx-1/cancel":
		f.cancels.Add(1)
		_, _ = w.Write([]byte(`{"success":true}`))

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found","code":404}`))
	}
}

func rsaKeyPEM(t *testing.T) (*rsa.PublicKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return &key.PublicKey, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func newService(t *testing.T, fake *fakeCustodian, pemBytes []byte, attempts int) (signer.Signer, func()) {
	t.Helper()
	srv := httptest.NewServer(fake)
	svc, err := custodian.NewService(custodian.Config{
		BaseURL:        srv.URL,
		APIKey:         "api-key",
		PrivateKeyPEM:  pemBytes,
		VaultAccountID: "7",
		PollInterval:   5 * time.Millisecond,
		MaxAttempts:    attempts,
	})
	require.NoError(t, err)
	return svc, srv.Close
}

func edKey(b byte) ed25519.PrivateKey {
	s := make([]byte, ed25519.SeedSize)
	s[0] = b
	return ed25519.NewKeyFromSeed(s)
}

func TestCardanoPaymentAndStakeInOneRequest(t *testing.T) {
	rsaPub, pemBytes := rsaKeyPEM(t)
	payment, stake := edKey(1), edKey(2)

	fake := &fakeCustodian{t: t, rsaPub: rsaPub, pendingFor: 2, finalState: custodian.StatusCompleted}
	fake.sign = func(content string, change *int) map[string]any {
		key := payment
		if change != nil && *change == 2 {
			key = stake
		}
		msg, _ := hex.DecodeString(content)
		return map[string]any{
			"content":   content,
			"publicKey": hex.EncodeToString(key.Public().(ed25519.PublicKey)),
			"signature": map[string]any{"fullSig": hex.EncodeToString(ed25519.Sign(key, msg))},
		}
	}
	svc, done := newService(t, fake, pemBytes, 10)
	defer done()

	digest := staking.NewSigningDigest(staking.ChainCardano, make([]byte, 32))
	resp, err := svc.Sign(context.Background(), &signer.SignRequest{
		Chain: staking.ChainCardano,
		Messages: []signer.Message{
			{Role: staking.RolePayment, Digest: digest},
			{Role: staking.RoleStake, Digest: digest},
		},
	})
	require.NoError(t, err)

	byRole := resp.ByRole()
	require.Len(t, byRole, 2)
	assert.Equal(t, []byte(payment.Public().(ed25519.PublicKey)), byRole[staking.RolePayment].PublicKey.Bytes)
	assert.Equal(t, []byte(stake.Public().(ed25519.PublicKey)), byRole[staking.RoleStake].PublicKey.Bytes)
	for _, s := range resp.Signatures {
		assert.NoError(t, verify.Witness(context.Background(), digest, s.Witness()))
	}

	assert.Equal(t, "ADA_TEST", fake.created["assetId"])
	assert.Equal(t, "RAW", fake.created["operation"])
	require.Len(t, fake.messages, 2)
	assert.NotContains(t, fake.messages[0], "bip44change")
	assert.Equal(t, float64(2), fake.messages[1]["bip44change"])
	assert.Equal(t, int32(3), fake.polls.Load())
}

func TestEthereumSignatureCarriesRecoveryID(t *testing.T) {
	rsaPub, pemBytes := rsaKeyPEM(t)
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	fake := &fakeCustodian{t: t, rsaPub: rsaPub, finalState: custodian.StatusCompleted}
	fake.sign = func(content string, _ *int) map[string]any {
		digest, _ := hex.DecodeString(content)
		sig, err := crypto.Sign(digest, key)
		assert.NoError(t, err)
		return map[string]any{
			"content":   content,
			"publicKey": hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey)),
			"signature": map[string]any{"fullSig": hex.EncodeToString(sig[:64]), "v": int(sig[64])},
		}
	}
	svc, done := newService(t, fake, pemBytes, 3)
	defer done()

	digest := staking.NewSigningDigest(staking.ChainEthereum, crypto.Keccak256([]byte("tx")))
	resp, err := svc.Sign(context.Background(), &signer.SignRequest{
		Chain:    staking.ChainEthereum,
		Messages: []signer.Message{{Role: staking.RoleSender, Digest: digest, Curve: staking.CurveSecp256k1}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Signatures[0].Signature.RecoveryID)
	assert.NoError(t, verify.Witness(context.Background(), digest, resp.Signatures[0].Witness()))

	raw := fake.created["extraParameters"].(map[string]any)["rawMessageData"].(map[string]any)
	assert.Equal(t, custodian.AlgorithmSecp256k1, raw["algorithm"])
}

func TestRejectedRequestIsNotRetryable(t *testing.T) {
	rsaPub, pemBytes := rsaKeyPEM(t)
	fake := &fakeCustodian{t: t, rsaPub: rsaPub, finalState: custodian.StatusRejected}
	svc, done := newService(t, fake, pemBytes, 3)
	defer done()

	_, err := svc.Sign(context.Background(), &signer.SignRequest{
		Chain:    staking.ChainSui,
		Messages: []signer.Message{{Role: staking.RoleSender, Digest: staking.NewSigningDigest(staking.ChainSui, make([]byte, 32))}},
	})
	require.ErrorIs(t, err, staking.ErrSignerUnavailable)
	assert.ErrorIs(t, err, signer.ErrRejected)
	assert.False(t, signer.Retryable(err))
	assert.Contains(t, err.Error(), "REJECTED")
}

func TestPollingIsBounded(t *testing.T) {
	rsaPub, pemBytes := rsaKeyPEM(t)
	fake := &fakeCustodian{t: t, rsaPub: rsaPub, pendingFor: 1000, finalState: custodian.StatusCompleted}
	svc, done := newService(t, fake, pemBytes, 4)
	defer done()

	resp, err := svc.Sign(context.Background(), &signer.SignRequest{
		Chain:    staking.ChainSolana,
		Messages: []signer.Message{{Role: "funder", Digest: staking.NewSigningDigest(staking.ChainSolana, []byte("msg"))}},
	})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, staking.ErrSignerTimeout)
	assert.True(t, signer.Retryable(err), "an exhausted poll may be retried with a new request")
	assert.Equal(t, int32(4), fake.polls.Load())
	assert.Equal(t, int32(1), fake.cancels.Load())
}

func TestCancelledContextYieldsNoSignature(t *testing.T) {
	rsaPub, pemBytes := rsaKeyPEM(t)
	fake := &fakeCustodian{t: t, rsaPub: rsaPub, pendingFor: 1000, finalState: custodian.StatusCompleted}
	svc, done := newService(t, fake, pemBytes, 0)
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := svc.Sign(ctx, &signer.SignRequest{
		Chain:    staking.ChainSui,
		Messages: []signer.Message{{Role: staking.RoleSender, Digest: staking.NewSigningDigest(staking.ChainSui, make([]byte, 32))}},
	})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, staking.ErrSignerTimeout)
	assert.False(t, signer.Retryable(err))
}

func TestUnreachableCustodian(t *testing.T) {
	_, pemBytes := rsaKeyPEM(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	svc, err := custodian.NewService(custodian.Config{
		BaseURL: srv.URL, APIKey: "api-key", PrivateKeyPEM: pemBytes, VaultAccountID: "7",
	})
	require.NoError(t, err)

	_, err = svc.Sign(context.Background(), &signer.SignRequest{
		Chain:    staking.ChainSui,
		Messages: []signer.Message{{Role: staking.RoleSender, Digest: staking.NewSigningDigest(staking.ChainSui, make([]byte, 32))}},
	})
	require.ErrorIs(t, err, staking.ErrSignerUnavailable)
	assert.True(t, signer.Retryable(err))
}

func TestNewServiceValidatesConfig(t *testing.T) {
	_, err := custodian.NewService(custodian.Config{BaseURL: "http://x", APIKey: "k", VaultAccountID: "1", PrivateKeyPEM: []byte("nope")})
	assert.Error(t, err)
	_, err = custodian.NewService(custodian.Config{})
	assert.Error(t, err)
}
