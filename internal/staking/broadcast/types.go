package broadcast

import (
	"context"
	"time"

	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

// Broadcaster submits signed transactions to a chain
type Broadcaster interface {
	Name() string

	// Broadcast submits signed and returns the chain transaction hash.
	// Upstream refusals are returned as BroadcastRejected carrying the upstream reason.
	Broadcast(ctx context.Context, signed *staking.SignedTransaction) (string, error)
}

// FinalityWaiter polls a submitted transaction until it is final or the poll bound is reached
type FinalityWaiter interface {
	WaitForFinality(ctx context.Context, chain staking.ChainKind, hash string) (*Finality, error)
}

// Finality is the terminal state of a broadcast transaction
type Finality struct {
	Hash    string
	Status  string
	Success bool
}

// Status values reported by every finality waiter
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
	StatusTimeout = "timeout"
)

const (
	defaultFinalityInterval = 2 * time.Second
	defaultFinalityAttempts = 30
	defaultRequestTimeout   = 30 * time.Second
)

// DefaultFinalityPoll returns the finality poll bound: 30 attempts, 2 seconds apart
func DefaultFinalityPoll() util.PollConfig {
	return util.PollConfig{Interval: defaultFinalityInterval, MaxAttempts: defaultFinalityAttempts}
}

func orDefault(cfg util.PollConfig) util.PollConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultFinalityInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultFinalityAttempts
	}
	return cfg
}

// Rejected wraps an upstream refusal as BroadcastRejected
func Rejected(chain staking.ChainKind, err error) *staking.PipelineError {
	return &staking.PipelineError{
		Kind:  staking.KindBroadcastRejected,
		Stage: staking.StageBroadcast,
		Chain: chain,
		Err:   err,
	}
}
