package stakingapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

const defaultRequestTimeout = 30 * time.Second

type service struct {
	cfg    Config
	client *resty.Client
}

// NewService creates a staking API client
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(cfg Config) (Service, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("staking API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	networks := DefaultNetworks()
	for chain, network := range cfg.Networks {
		networks[chain] = network
	}
	cfg.Networks = networks

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", cfg.APIKey)

	return &service{cfg: cfg, client: client}, nil
}

func (s *service) Create(ctx context.Context, chain staking.ChainKind, operation string, params map[string]any) (*Payload, error) {
	log := util.LogFromContext(ctx).With().Str("component", "staking_api").Str("chain", string(chain)).Str("operation", operation).Logger()

	if !supported(chain, operation) {
		return nil, errors.Errorf("unsupported %s staking operation %q", chain, operation)
	}

	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	if _, ok := body["network"]; !ok {
		body["network"] = s.cfg.Networks[chain]
	}

	raw, err := s.do(ctx, http.MethodPost, "/"+string(chain)+"/"+operation, body, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s transaction", operation)
	}

	data, err := transactionFrom(raw)
	if err != nil {
		return nil, staking.Malformed(chain, err, "unexpected %s response", operation)
	}
	if data.UnsignedTransactionSerialized == "" {
		return nil, staking.Malformed(chain, nil, "unsigned_transaction_serialized not found in the %s response", operation)
	}

	unsigned, err := util.DecodeHex(data.UnsignedTransactionSerialized)
	if err != nil {
		return nil, staking.Malformed(chain, err, "failed to decode unsigned transaction")
	}

	payload := &Payload{Chain: chain, Operation: operation, Unsigned: unsigned, Response: raw}
	if sp := firstNonEmpty(data.SigningPayload, data.UnsignedTransactionHashed); sp != "" {
		payload.SigningPayload, err = util.DecodeHex(sp)
		if err != nil {
			return nil, staking.Malformed(chain, err, "failed to decode signing payload")
		}
	}

	log.Info().Int("unsigned_bytes", len(unsigned)).Bool("signing_payload", payload.SigningPayload != nil).Msg("Unsigned transaction created")
	return payload, nil
}

func (s *service) Broadcast(ctx context.Context, signed *staking.SignedTransaction) (string, error) {
	log := util.LogFromContext(ctx).With().Str("component", "staking_api").Str("chain", string(signed.Chain)).Logger()

	body, err := s.broadcastBody(signed)
	if err != nil {
		return "", err
	}

	raw, err := s.do(ctx, http.MethodPost, "/"+string(signed.Chain)+"/"+operationBroadcast, body, nil)
	if err != nil {
		return "", &staking.PipelineError{
			Kind:  staking.KindBroadcastRejected,
			Stage: staking.StageBroadcast,
			Chain: signed.Chain,
			Err:   err,
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", staking.NewError(staking.KindBroadcastRejected, signed.Chain, "unexpected broadcast response", err)
	}
	hash := env.TransactionHash
	if data, err := transactionFrom(raw); err == nil {
		hash = firstNonEmpty(data.TransactionHash, data.TxHash, hash)
	}
	if hash == "" {
		return "", staking.NewError(staking.KindBroadcastRejected, signed.Chain, "broadcast response carries no transaction hash: "+string(raw), nil)
	}

	log.Info().Str("tx_hash", hash).Msg("Transaction broadcast")
	return hash, nil
}

// broadcastBody shapes the signed transaction the way each chain's broadcast endpoint expects it
func (s *service) broadcastBody(signed *staking.SignedTransaction) (map[string]any, error) {
	body := map[string]any{"network": s.cfg.Networks[signed.Chain]}

	switch signed.Chain {
	case staking.ChainSolana:
		body["transaction_payload"] = hex.EncodeToString(signed.Raw)
	case staking.ChainSui:
		if len(signed.Signatures) != 1 {
			return nil, staking.NewError(staking.KindBroadcastRejected, signed.Chain,
				"the staking API broadcasts single-signer Sui transactions only, use the Sui RPC broadcaster", nil)
		}
		body["unsigned_transaction_serialized"] = hex.EncodeToString(signed.Unsigned)
		body["signature"] = signed.Signatures[0]
	case staking.ChainEthereum:
		body["signed_transaction"] = "0x" + hex.EncodeToString(signed.Raw)
	case staking.ChainCardano:
		body["signed_transaction"] = hex.EncodeToString(signed.Raw)
	default:
		return nil, errors.Errorf("unsupported chain %q", signed.Chain)
	}
	return body, nil
}

func (s *service) TxStatus(ctx context.Context, chain staking.ChainKind, hash string) (*TxStatus, error) {
	raw, err := s.do(ctx, http.MethodGet, "/"+string(chain)+"/"+operationTx, nil, map[string]string{
		"network": s.cfg.Networks[chain],
		"hash":    hash,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction status")
	}

	data, err := transactionFrom(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode transaction status")
	}
	return &TxStatus{Hash: hash, Status: strings.ToLower(data.Status), Raw: raw}, nil
}

func (s *service) Stakes(ctx context.Context, chain staking.ChainKind, params map[string]string) (json.RawMessage, error) {
	query := map[string]string{"network": s.cfg.Networks[chain]}
	for k, v := range params {
		query[k] = v
	}
	raw, err := s.do(ctx, http.MethodGet, "/"+string(chain)+"/"+operationStakes, nil, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stakes")
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "failed to decode stakes")
	}
	return env.Data, nil
}

func (s *service) do(ctx context.Context, method string, path string, body any, query map[string]string) (json.RawMessage, error) {
	r := s.client.R().
		SetContext(ctx).
		SetError(&errorResponse{})
	if body != nil {
		r.SetBody(body)
	}
	if query != nil {
		r.SetQueryParams(query)
	}

	resp, err := r.Execute(method, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call staking API %s %s", method, path)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*errorResponse); ok && e.text() != "" {
			return nil, errors.Errorf("staking API %s %s returned %d: %s", method, path, resp.StatusCode(), e.text())
		}
		return nil, errors.Errorf("staking API %s %s returned %d: %s", method, path, resp.StatusCode(), resp.String())
	}
	return json.RawMessage(resp.Body()), nil
}

// transactionFrom reads the transaction fields from data, falling back to meta.staking_transaction
func transactionFrom(raw json.RawMessage) (*transactionData, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}

	data := &transactionData{}
	if len(env.Data) > 0 && env.Data[0] == '{' {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return nil, errors.Wrap(err, "failed to decode response data")
		}
	}
	if data.UnsignedTransactionSerialized == "" && env.Meta != nil && env.Meta.StakingTransaction != nil {
		meta := env.Meta.StakingTransaction
		data.UnsignedTransactionSerialized = meta.UnsignedTransactionSerialized
		data.UnsignedTransactionHashed = firstNonEmpty(data.UnsignedTransactionHashed, meta.UnsignedTransactionHashed)
	}
	return data, nil
}

func supported(chain staking.ChainKind, operation string) bool {
	for _, op := range Operations[chain] {
		if op == operation {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
