package tx

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
	"github/chapool/go-staking/internal/util/command"
)

func newSign() *cobra.Command {
	var (
		flags          signingFlags
		signingPayload string
		encoding       string
	)

	cmd := &cobra.Command{
		Use:   "sign <chain> <unsigned>",
		Short: "Signs an unsigned transaction",
		Long: `Runs an unsigned transaction (hex or base64 per --encoding, inline or @file) through digest derivation,
signing, verification and assembly, then optionally broadcasts it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := staking.ParseChainKind(args[0])
			if err != nil {
				return err
			}
			unsigned, err := readPayload(args[1], encoding)
			if err != nil {
				return errors.Wrap(err, "failed to decode unsigned transaction")
			}

			req := flags.request(ch)
			req.Unsigned = unsigned
			if signingPayload != "" {
				if req.SigningPayload, err = util.DecodeHex(signingPayload); err != nil {
					return errors.Wrap(err, "failed to decode signing payload")
				}
			}

			return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
				res, err := s.Pipeline.Run(ctx, &req)
				return flags.printResult(cmd, res, err)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&encoding, "encoding", string(util.EncodingHex), "Encoding of the unsigned transaction, hex or base64.")
	cmd.Flags().StringVar(&signingPayload, "signing-payload", "", "Digest reported by the staking API, checked against the derived one.")
	return cmd
}
