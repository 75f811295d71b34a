package broadcast

import (
	"context"

	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

// probe reads the current state of a transaction; a nil Finality means not yet final
type probe func(ctx context.Context) (*Finality, error)

// waitFor polls check within cfg. Read errors are logged and polled through; an on-chain
// failure ends the wait with a BroadcastRejected error.
func waitFor(ctx context.Context, cfg util.PollConfig, chain staking.ChainKind, hash string, check probe) (*Finality, error) {
	log := util.LogFromContext(ctx).With().Str("component", "finality").Str("chain", string(chain)).Str("tx_hash", hash).Logger()

	var final *Finality
	err := util.Poll(ctx, orDefault(cfg), func(ctx context.Context, attempt int) (bool, error) {
		f, err := check(ctx)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Failed to read transaction status")
			return false, nil
		}
		if f == nil {
			log.Debug().Int("attempt", attempt).Msg("Transaction not final yet")
			return false, nil
		}
		final = f
		return true, nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("Transaction did not reach finality")
		return &Finality{Hash: hash, Status: StatusTimeout}, &staking.PipelineError{
			Stage:   staking.StageFinality,
			Chain:   chain,
			Message: "transaction " + hash + " did not reach finality",
			Err:     err,
		}
	}

	if !final.Success {
		log.Error().Str("status", final.Status).Msg("Transaction failed on chain")
		return final, &staking.PipelineError{
			Kind:    staking.KindBroadcastRejected,
			Stage:   staking.StageFinality,
			Chain:   chain,
			Message: "transaction " + hash + " failed on chain",
			Err:     errors.New(final.Status),
		}
	}

	log.Info().Str("status", final.Status).Msg("Transaction final")
	return final, nil
}
