package tx

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util/command"
)

func newResume() *cobra.Command {
	var flags signingFlags

	cmd := &cobra.Command{
		Use:   "resume <partial.json>",
		Short: "Adds signatures to a partially signed transaction",
		Long: `Reads a partial transaction written by --partial-out, verifies the witnesses it carries
and signs the missing roles (or --roles).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := readPartial(args[0])
			if err != nil {
				return err
			}

			req := flags.request(partial.Chain)
			return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
				res, err := s.Pipeline.Resume(ctx, partial, &req)
				return flags.printResult(cmd, res, err)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func readPartial(path string) (*staking.PartialTransaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read partial transaction")
	}

	var partial staking.PartialTransaction
	if err := json.Unmarshal(data, &partial); err != nil {
		return nil, errors.Wrap(err, "failed to decode partial transaction")
	}
	if _, err := staking.ParseChainKind(string(partial.Chain)); err != nil {
		return nil, err
	}
	if len(partial.Unsigned) == 0 {
		return nil, errors.New("partial transaction has no unsigned transaction")
	}
	return &partial, nil
}
