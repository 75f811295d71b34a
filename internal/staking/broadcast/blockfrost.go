package broadcast

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

// DefaultBlockfrostURL is the Blockfrost preprod endpoint
const DefaultBlockfrostURL = "https://cardano-preprod.blockfrost.io/api/v0"

// Blockfrost submits Cardano transactions through the Blockfrost API
type Blockfrost struct {
	client *resty.Client
	poll   util.PollConfig
}

// NewBlockfrost creates a Blockfrost broadcaster for the given project
func NewBlockfrost(baseURL string, projectID string, poll util.PollConfig) (*Blockfrost, error) {
	if projectID == "" {
		return nil, errors.New("blockfrost project id is required")
	}
	if baseURL == "" {
		baseURL = DefaultBlockfrostURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(defaultRequestTimeout).
		SetHeader("project_id", projectID)
	return &Blockfrost{client: client, poll: poll}, nil
}

func (b *Blockfrost) Name() string {
	return "blockfrost"
}

func (b *Blockfrost) Broadcast(ctx context.Context, signed *staking.SignedTransaction) (string, error) {
	if signed == nil || len(signed.Raw) == 0 {
		return "", Rejected(staking.ChainCardano, errors.New("signed transaction is empty"))
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/cbor").
		SetBody(signed.Raw).
		Post("/tx/submit")
	if err != nil {
		return "", Rejected(staking.ChainCardano, errors.Wrap(err, "failed to call blockfrost"))
	}
	if resp.IsError() {
		return "", Rejected(staking.ChainCardano, errors.Errorf("blockfrost returned %d: %s", resp.StatusCode(), resp.String()))
	}

	// the body is the JSON encoded transaction id
	hash := strings.Trim(strings.TrimSpace(resp.String()), `"`)
	if hash == "" {
		return "", Rejected(staking.ChainCardano, errors.New("blockfrost returned no transaction id"))
	}

	util.LogFromContext(ctx).Info().
		Str("component", "blockfrost_broadcaster").
		Str("tx_hash", hash).
		Msg("Transaction submitted")
	return hash, nil
}

// WaitForFinality treats a transaction Blockfrost has indexed in a block as final
func (b *Blockfrost) WaitForFinality(ctx context.Context, _ staking.ChainKind, hash string) (*Finality, error) {
	return waitFor(ctx, b.poll, staking.ChainCardano, hash, func(ctx context.Context) (*Finality, error) {
		var tx struct {
			Hash          string `json:"hash"`
			Block         string `json:"block"`
			ValidContract bool   `json:"valid_contract"`
		}
		resp, err := b.client.R().SetContext(ctx).SetResult(&tx).Get("/txs/" + hash)
		if err != nil {
			return nil, errors.Wrap(err, "failed to call blockfrost")
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil, nil
		}
		if resp.IsError() {
			return nil, errors.Errorf("blockfrost returned %d: %s", resp.StatusCode(), resp.String())
		}
		if tx.Block == "" {
			return nil, nil
		}
		if !tx.ValidContract {
			return &Finality{Hash: hash, Status: StatusFailed}, nil
		}
		return &Finality{Hash: hash, Status: StatusSuccess, Success: true}, nil
	})
}
