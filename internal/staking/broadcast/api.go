package broadcast

import (
	"context"

	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/stakingapi"
	"github/chapool/go-staking/internal/util"
)

// API broadcasts through the staking API and polls its transaction status endpoint
type API struct {
	client stakingapi.Service
	poll   util.PollConfig
}

// NewAPI creates a staking API broadcaster
func NewAPI(client stakingapi.Service, poll util.PollConfig) *API {
	return &API{client: client, poll: poll}
}

func (a *API) Name() string {
	return "staking_api"
}

func (a *API) Broadcast(ctx context.Context, signed *staking.SignedTransaction) (string, error) {
	return a.client.Broadcast(ctx, signed)
}

func (a *API) WaitForFinality(ctx context.Context, chain staking.ChainKind, hash string) (*Finality, error) {
	return waitFor(ctx, a.poll, chain, hash, func(ctx context.Context) (*Finality, error) {
		status, err := a.client.TxStatus(ctx, chain, hash)
		if err != nil {
			return nil, err
		}
		switch {
		case status.Success():
			return &Finality{Hash: hash, Status: status.Status, Success: true}, nil
		case status.Failed():
			return &Finality{Hash: hash, Status: status.Status}, nil
		default:
			return nil, nil
		}
	})
}
