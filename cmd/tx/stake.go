package tx

import (
	"context"
	"slices"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/pipeline"
	"github/chapool/go-staking/internal/staking/stakingapi"
	"github/chapool/go-staking/internal/util/command"
)

func newStake() *cobra.Command {
	var (
		flags  signingFlags
		params map[string]string
	)

	cmd := &cobra.Command{
		Use:   "stake <chain> <operation>",
		Short: "Builds a staking transaction through the staking API and signs it",
		Long: `Asks the staking API for the operation's unsigned transaction, checks its signing payload
against the locally derived digest, signs and optionally broadcasts it.

Operations: ethereum validators|withdrawal|compound, solana stake|undelegate|withdraw,
cardano delegate, sui stake.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := staking.ParseChainKind(args[0])
			if err != nil {
				return err
			}
			if !slices.Contains(stakingapi.Operations[ch], args[1]) {
				return errors.Errorf("%s does not support %q, use one of %v", ch, args[1], stakingapi.Operations[ch])
			}

			req := &pipeline.FetchRequest{
				Request:   flags.request(ch),
				Operation: args[1],
				Params:    parseParams(params),
			}
			return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
				res, err := s.Pipeline.Fetch(ctx, req)
				return flags.printResult(cmd, res, err)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringToStringVar(&params, "param", nil, "Request parameter, key=value; numbers and booleans are sent typed.")
	return cmd
}

// parseParams sends numeric and boolean values typed, everything else as strings
func parseParams(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		out[k] = v
	}
	return out
}
