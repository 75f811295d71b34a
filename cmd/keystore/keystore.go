package keystore

import (
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/util/command"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("keystore",
		newCreate(),
		newKeys(),
	)
}
