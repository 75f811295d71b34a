package tx

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain/ethereum"
	"github/chapool/go-staking/internal/staking/signer/local"
	"github/chapool/go-staking/internal/util"
	"github/chapool/go-staking/internal/util/command"
)

// requestFlags configure an execution layer triggered request
type requestFlags struct {
	signingFlags
	from     string
	feeLimit string
	gasLimit uint64
}

func (f *requestFlags) register(cmd *cobra.Command) {
	f.signingFlags.register(cmd)
	cmd.Flags().StringVar(&f.from, "from", "", "Withdrawal address; defaults to the address of --key in the local key ring.")
	cmd.Flags().StringVar(&f.feeLimit, "fee-limit", "", "Refuse when the predeploy fee (wei) exceeds this.")
	cmd.Flags().Uint64Var(&f.gasLimit, "gas", 0, "Gas limit; 0 estimates it.")
}

type buildFunc func(ctx context.Context, b *ethereum.RequestBuilder, from common.Address, feeLimit *big.Int) ([]byte, error)

func newWithdrawalRequest() *cobra.Command {
	var (
		flags  requestFlags
		amount uint64
	)

	cmd := &cobra.Command{
		Use:   "withdrawal-request <validator-pubkey>",
		Short: "Requests a validator exit or partial withdrawal (EIP-7002)",
		Long: `Builds, signs and optionally broadcasts an EIP-7002 request from the validator's
withdrawal address. --amount-gwei 0 requests a full exit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pubkey, err := util.DecodeHex(args[0])
			if err != nil {
				return errors.Wrap(err, "failed to decode validator pubkey")
			}
			return flags.run(cmd, func(ctx context.Context, b *ethereum.RequestBuilder, from common.Address, feeLimit *big.Int) ([]byte, error) {
				return b.BuildWithdrawalRequest(ctx, from, pubkey, amount, feeLimit)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().Uint64Var(&amount, "amount-gwei", 0, "Amount to withdraw in gwei.")
	return cmd
}

func newConsolidationRequest() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "consolidation-request <source-pubkey> <target-pubkey>",
		Short: "Consolidates a validator into another (EIP-7251)",
		Long:  `Builds, signs and optionally broadcasts an EIP-7251 consolidation request from the source's withdrawal address.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := util.DecodeHex(args[0])
			if err != nil {
				return errors.Wrap(err, "failed to decode source pubkey")
			}
			target, err := util.DecodeHex(args[1])
			if err != nil {
				return errors.Wrap(err, "failed to decode target pubkey")
			}
			return flags.run(cmd, func(ctx context.Context, b *ethereum.RequestBuilder, from common.Address, feeLimit *big.Int) ([]byte, error) {
				return b.BuildConsolidationRequest(ctx, from, source, target, feeLimit)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newDeposit() *cobra.Command {
	var (
		flags       requestFlags
		amount      uint64
		credentials string
		signature   string
	)

	cmd := &cobra.Command{
		Use:   "deposit <validator-pubkey>",
		Short: "Deposits to the beacon chain deposit contract",
		Long: `Builds, signs and optionally broadcasts a call to the deposit contract carrying --amount-gwei.
Without --withdrawal-credentials and --deposit-signature the deposit tops up an existing validator.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deposit, err := parseDeposit(args[0], credentials, signature, amount)
			if err != nil {
				return err
			}
			return flags.run(cmd, func(ctx context.Context, b *ethereum.RequestBuilder, from common.Address, _ *big.Int) ([]byte, error) {
				return b.BuildDepositRequest(ctx, from, deposit)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().Uint64Var(&amount, "amount-gwei", ethereum.MinDepositGwei, "Amount to deposit in gwei.")
	cmd.Flags().StringVar(&credentials, "withdrawal-credentials", "", "Withdrawal credentials of a new validator (32 bytes hex).")
	cmd.Flags().StringVar(&signature, "deposit-signature", "", "BLS signature of a new validator's deposit message (96 bytes hex).")
	return cmd
}

// parseDeposit builds a top-up unless both credentials and signature are given
func parseDeposit(pubkeyHex, credentialsHex, signatureHex string, amountGwei uint64) (ethereum.Deposit, error) {
	pubkey, err := util.DecodeHex(pubkeyHex)
	if err != nil {
		return ethereum.Deposit{}, errors.Wrap(err, "failed to decode validator pubkey")
	}
	deposit := ethereum.TopUp(pubkey, amountGwei)

	if (credentialsHex == "") != (signatureHex == "") {
		return ethereum.Deposit{}, errors.New("--withdrawal-credentials and --deposit-signature go together")
	}
	if credentialsHex != "" {
		if deposit.WithdrawalCredentials, err = util.DecodeHex(credentialsHex); err != nil {
			return ethereum.Deposit{}, errors.Wrap(err, "failed to decode withdrawal credentials")
		}
		if deposit.Signature, err = util.DecodeHex(signatureHex); err != nil {
			return ethereum.Deposit{}, errors.Wrap(err, "failed to decode deposit signature")
		}
	}
	return deposit, nil
}

func (f *requestFlags) run(cmd *cobra.Command, build buildFunc) error {
	var feeLimit *big.Int
	if f.feeLimit != "" {
		var ok bool
		if feeLimit, ok = new(big.Int).SetString(f.feeLimit, 10); !ok {
			return errors.Errorf("invalid fee limit %q", f.feeLimit)
		}
	}

	cfg := config.DefaultServiceConfigFromEnv()
	return command.WithServer(cmd.Context(), cfg, func(ctx context.Context, s *api.Server) error {
		from, err := f.sender(cfg, s)
		if err != nil {
			return err
		}

		client, err := ethereum.NewRPCClient(cfg.Broadcast.EthereumRPCURLs)
		if err != nil {
			return errors.Wrap(err, "failed to connect to ethereum RPC")
		}
		defer client.Close()

		unsigned, err := build(ctx, ethereum.NewRequestBuilder(client, f.gasLimit), from, feeLimit)
		if err != nil {
			return errors.Wrap(err, "failed to build request transaction")
		}

		req := f.request(staking.ChainEthereum)
		req.Unsigned = unsigned
		res, err := s.Pipeline.Run(ctx, &req)
		return f.printResult(cmd, res, err)
	})
}

// sender is --from, or the address of --key in the local key ring
func (f *requestFlags) sender(cfg config.Server, s *api.Server) (common.Address, error) {
	if f.from != "" {
		if !common.IsHexAddress(f.from) {
			return common.Address{}, errors.Errorf("invalid address %q", f.from)
		}
		return common.HexToAddress(f.from), nil
	}
	if f.key == "" {
		return common.Address{}, errors.New("either --from or --key is required")
	}

	keys, err := config.LoadKeyRing(cfg.Signer.KeysFile)
	if err != nil {
		return common.Address{}, err
	}
	spec, ok := keys[f.key]
	if !ok {
		return common.Address{}, errors.Errorf("key %q is not in the local key ring, pass --from", f.key)
	}
	pubs, err := local.PublicKeys(map[string]local.KeySpec{f.key: spec}, s.Seeds)
	if err != nil {
		return common.Address{}, err
	}
	return ethereum.PublicKeyAddress(pubs[f.key].Bytes)
}
