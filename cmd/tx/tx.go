package tx

import (
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/util/command"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("tx",
		newSign(),
		newResume(),
		newStake(),
		newStatus(),
		newWithdrawalRequest(),
		newConsolidationRequest(),
		newDeposit(),
	)
}
