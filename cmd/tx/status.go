package tx

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util/command"
)

func newStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status <chain> <hash>",
		Short: "Waits for a broadcast transaction to become final",
		Long:  `Polls the chain's configured broadcast route until the transaction is final or the poll bound is reached.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := staking.ParseChainKind(args[0])
			if err != nil {
				return err
			}

			return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
				final, waitErr := s.Broadcast.WaitForFinality(ctx, ch, args[1])
				if final != nil {
					out, err := json.MarshalIndent(final, "", "  ")
					if err != nil {
						return errors.Wrap(err, "failed to marshal finality")
					}
					cmd.Println(string(out))
				}
				return waitErr
			})
		},
	}
}
