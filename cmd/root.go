package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/cmd/batch"
	"github/chapool/go-staking/cmd/env"
	"github/chapool/go-staking/cmd/keystore"
	"github/chapool/go-staking/cmd/probe"
	"github/chapool/go-staking/cmd/server"
	"github/chapool/go-staking/cmd/tx"
	"github/chapool/go-staking/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

Signs staking transactions for Ethereum, Solana, Cardano and Sui:
unsigned transaction -> digest -> sign -> verify -> assemble -> broadcast.
Requires configuration through ENV.`, config.ModuleName),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// attach the subcommands
	rootCmd.AddCommand(
		batch.New(),
		env.New(),
		keystore.New(),
		probe.New(),
		server.New(),
		tx.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
