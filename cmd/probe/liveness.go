package probe

import "github.com/spf13/cobra"

func newLiveness() *cobra.Command {
	return newProbe("liveness", "Liveness probe.", "/-/healthy")
}
