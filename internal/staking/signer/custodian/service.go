package custodian

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/signer"
	"github/chapool/go-staking/internal/staking/verify"
	"github/chapool/go-staking/internal/util"
)

const (
	defaultPollInterval   = 3 * time.Second
	defaultMaxAttempts    = 200
	defaultRequestTimeout = 30 * time.Second
	cancelTimeout         = 10 * time.Second
	transactionsPath      = "/v1/transactions"
)

type service struct {
	cfg    Config
	client *resty.Client
	tokens *tokenSigner
}

// NewService creates a signer backed by the custodian's raw signing API
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(cfg Config) (signer.Signer, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.VaultAccountID == "" {
		return nil, errors.New("custodian base URL, API key and vault account are required")
	}
	tokens, err := newTokenSigner(cfg.APIKey, cfg.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Assets == nil {
		cfg.Assets = DefaultAssets()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-Key", cfg.APIKey)

	return &service{cfg: cfg, client: client, tokens: tokens}, nil
}

func (s *service) Name() string {
	return "custodian"
}

// Sign submits all messages in one raw signing request and waits for it to become terminal
func (s *service) Sign(ctx context.Context, req *signer.SignRequest) (*signer.SignResponse, error) {
	log := util.LogFromContext(ctx).With().Str("component", "custodian_signer").Str("chain", string(req.Chain)).Logger()

	if err := req.Validate(); err != nil {
		return nil, signer.Unavailable(req.Chain, errors.Wrap(signer.ErrRejected, err.Error()), "invalid sign request")
	}
	body, err := s.buildRequest(req)
	if err != nil {
		return nil, signer.Unavailable(req.Chain, errors.Wrap(signer.ErrRejected, err.Error()), "invalid sign request")
	}

	created, err := s.create(ctx, body)
	if err != nil {
		return nil, signer.Unavailable(req.Chain, err, "failed to create signing request")
	}
	log.Info().Str("transaction_id", created.ID).Str("status", created.Status).Msg("Signing request created")

	var final *transactionResponse
	err = util.Poll(ctx, util.PollConfig{Interval: s.cfg.PollInterval, MaxAttempts: s.cfg.MaxAttempts},
		func(ctx context.Context, attempt int) (bool, error) {
			tx, err := s.get(ctx, created.ID)
			if err != nil {
				// transient read failures keep polling until the attempts run out
				log.Warn().Err(err).Int("attempt", attempt).Msg("Failed to read signing request")
				return false, nil
			}
			if !isTerminal(tx.Status) {
				log.Debug().Int("attempt", attempt).Str("status", tx.Status).Msg("Waiting for signature")
				return false, nil
			}
			final = tx
			return true, nil
		})
	if err != nil {
		s.cancel(created.ID)
		log.Warn().Err(err).Str("transaction_id", created.ID).Msg("Signing request did not complete")
		return nil, &staking.PipelineError{
			Kind:    staking.KindSignerTimeout,
			Stage:   staking.StageSign,
			Chain:   req.Chain,
			Message: "custodian request " + created.ID + " did not reach a terminal state",
			Err:     err,
		}
	}

	if !isSuccess(final.Status) {
		log.Error().Str("transaction_id", final.ID).Str("status", final.Status).Str("sub_status", final.SubStatus).Msg("Signing request failed")
		reason := final.Status
		if final.SubStatus != "" {
			reason += "/" + final.SubStatus
		}
		return nil, signer.Unavailable(req.Chain, errors.Wrap(signer.ErrRejected, reason), "custodian request "+final.ID+" ended as "+reason)
	}

	resp, err := mapSignatures(req, final.SignedMessages)
	if err != nil {
		return nil, &staking.PipelineError{
			Kind:    staking.KindSignatureMismatch,
			Stage:   staking.StageSign,
			Chain:   req.Chain,
			Message: "custodian returned unusable signatures",
			Err:     err,
		}
	}
	log.Info().Str("transaction_id", final.ID).Int("signatures", len(resp.Signatures)).Msg("Signing request completed")
	return resp, nil
}

func (s *service) buildRequest(req *signer.SignRequest) ([]byte, error) {
	asset, ok := s.cfg.Assets[req.Chain]
	if !ok {
		return nil, errors.Errorf("no custodian asset configured for %s", req.Chain)
	}

	curve := staking.CurveFor(req.Chain)
	algorithm := AlgorithmEd25519
	if curve == staking.CurveSecp256k1 {
		algorithm = AlgorithmSecp256k1
	}

	messages := make([]rawMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Curve != "" && m.Curve != curve {
			return nil, errors.Errorf("role %s needs %s, %s vaults sign with %s", m.Role, m.Curve, req.Chain, curve)
		}
		msg := rawMessage{Content: m.Digest.Hex()}
		if req.Chain == staking.ChainCardano && m.Role == staking.RoleStake {
			change := cardanoStakeChange
			msg.Bip44Change = &change
		}
		messages = append(messages, msg)
	}

	note := req.Note
	if note == "" {
		note = "Sign " + string(req.Chain) + " staking transaction"
	}

	body, err := json.Marshal(createTransactionRequest{
		AssetID:   asset,
		Operation: operationRaw,
		Source:    peer{Type: peerVaultAccount, ID: s.cfg.VaultAccountID},
		Note:      note,
		ExtraParameters: extraParameters{
			RawMessageData: rawMessageData{Messages: messages, Algorithm: algorithm},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal signing request")
	}
	return body, nil
}

func (s *service) create(ctx context.Context, body []byte) (*createTransactionResponse, error) {
	var out createTransactionResponse
	if err := s.do(ctx, http.MethodPost, transactionsPath, body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("custodian returned no transaction id")
	}
	return &out, nil
}

func (s *service) get(ctx context.Context, id string) (*transactionResponse, error) {
	var out transactionResponse
	if err := s.do(ctx, http.MethodGet, transactionsPath+"/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// cancel asks the custodian to drop a request nobody waits for anymore
func (s *service) cancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	_ = s.do(ctx, http.MethodPost, transactionsPath+"/"+id+"/cancel", []byte("{}"), nil)
}

func (s *service) do(ctx context.Context, method string, path string, body []byte, out any) error {
	token, err := s.tokens.token(path, body)
	if err != nil {
		return err
	}

	r := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(&errorResponse{})
	if body != nil {
		r.SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}

	resp, err := r.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "failed to call custodian %s %s", method, path)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*errorResponse); ok && e.Message != "" {
			return errors.Errorf("custodian %s %s returned %d: %s", method, path, resp.StatusCode(), e.Message)
		}
		return errors.Errorf("custodian %s %s returned %d: %s", method, path, resp.StatusCode(), resp.String())
	}
	return nil
}

// mapSignatures pairs the signed messages with the request messages in submission order.
// A message whose content is returned must match the digest submitted at that index.
func mapSignatures(req *signer.SignRequest, signed []signedMessage) (*signer.SignResponse, error) {
	if len(signed) != len(req.Messages) {
		return nil, errors.Errorf("expected %d signed messages, got %d", len(req.Messages), len(signed))
	}

	curve := staking.CurveFor(req.Chain)
	out := &signer.SignResponse{Signatures: make([]signer.RoleSignature, 0, len(signed))}
	for i, m := range req.Messages {
		sm := signed[i]
		if sm.Content != "" && !strings.EqualFold(strings.TrimPrefix(sm.Content, "0x"), m.Digest.Hex()) {
			return nil, errors.Errorf("signed message %d is for a different digest", i)
		}

		sig, err := util.DecodeHex(sm.Signature.FullSig)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode signature %d", i)
		}
		pub, err := util.DecodeHex(sm.PublicKey)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode public key %d", i)
		}

		signature := staking.Signature{Bytes: sig}
		if curve == staking.CurveSecp256k1 {
			if sm.Signature.V != nil {
				v := byte(*sm.Signature.V)
				signature.RecoveryID = &v
			}
			signature = verify.NormalizeLowS(signature)
		}

		out.Signatures = append(out.Signatures, signer.RoleSignature{
			Role:      m.Role,
			Signature: signature,
			PublicKey: staking.PublicKey{Curve: curve, Bytes: pub},
		})
	}
	return out, nil
}

func isTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusConfirmed, StatusCancelled, StatusRejected, StatusFailed, StatusBlocked:
		return true
	default:
		return false
	}
}

func isSuccess(status string) bool {
	return status == StatusCompleted || status == StatusConfirmed
}
