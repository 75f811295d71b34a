package test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/router"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/broadcast"
	"github/chapool/go-staking/internal/staking/pipeline"
	"github/chapool/go-staking/internal/staking/signer"
	"github/chapool/go-staking/internal/staking/signer/local"
	"github/chapool/go-staking/internal/util"
)

// Broadcaster records submitted transactions and reports them final at once
type Broadcaster struct {
	mu   sync.Mutex
	Sent []*staking.SignedTransaction
	// Err is returned by Broadcast when set
	Err error
}

func (b *Broadcaster) Name() string { return "test" }

func (b *Broadcaster) Broadcast(_ context.Context, signed *staking.SignedTransaction) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return "", broadcast.Rejected(signed.Chain, b.Err)
	}
	b.Sent = append(b.Sent, signed)
	return signed.Hash, nil
}

func (b *Broadcaster) WaitForFinality(_ context.Context, _ staking.ChainKind, hash string) (*broadcast.Finality, error) {
	return &broadcast.Finality{Hash: hash, Status: broadcast.StatusSuccess, Success: true}, nil
}

// Submitted returns the number of broadcast transactions
func (b *Broadcaster) Submitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Sent)
}

// WithTestServer runs closure against a server signing with KeyRing and broadcasting to a
// Broadcaster, reachable as s.Broadcast routes for every chain
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()
	WithTestServerConfigurable(t, config.DefaultServiceConfigFromEnv(), &Broadcaster{}, closure)
}

// WithTestServerConfigurable is WithTestServer with the config and the broadcaster given
func WithTestServerConfigurable(t *testing.T, cfg config.Server, b *Broadcaster, closure func(s *api.Server)) {
	t.Helper()

	s := NewTestServer(t, cfg, b)
	router.Init(s)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	closure(s)
}

// NewTestServer builds server components without touching the filesystem or the network
func NewTestServer(t *testing.T, cfg config.Server, b *Broadcaster) *api.Server {
	t.Helper()

	s := api.NewServer(cfg)
	s.Chains = api.NewChainRegistry()
	s.Metrics = api.NewMetricsRegistry()

	localSigner, err := local.NewService(KeyRing(), nil)
	require.NoError(t, err)
	s.Signers = map[string]signer.Signer{config.SignerLocal: localSigner}

	routes := make(map[staking.ChainKind]broadcast.Route, len(staking.AllChains))
	for _, ch := range staking.AllChains {
		routes[ch] = broadcast.NewRoute(b)
	}
	s.Broadcast = broadcast.NewRouter(routes)

	s.Pipeline, err = pipeline.NewService(pipeline.Config{
		Registry:    s.Chains,
		Signers:     s.Signers,
		Broadcaster: s.Broadcast,
		Waiter:      s.Broadcast,
		SignRetry:   util.PollConfig{Interval: 1, MaxAttempts: 1},
		Registerer:  s.Metrics,
	})
	require.NoError(t, err)

	return s
}

// PerformRequest serves one request through the server's echo router. body is JSON encoded
// unless it is nil.
func PerformRequest(t *testing.T, s *api.Server, method string, path string, body any, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header[k] = v
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	res := httptest.NewRecorder()
	s.Echo.ServeHTTP(res, req)
	return res
}
