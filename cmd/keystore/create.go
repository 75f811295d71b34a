package keystore

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking/signer/keystore"
	"github/chapool/go-staking/internal/util/command"
)

func newCreate() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Encrypts a mnemonic into the keystore",
		Long: `Prompts for a BIP39 mnemonic and a password and writes the encrypted keystore to KEYSTORE_PATH.
An existing keystore is never overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			command.ConfigureLogger(cfg.Logger)
			return create(cmd, cfg.Signer.KeystorePath, command.PromptPassword)
		},
	}
}

func create(cmd *cobra.Command, path string, prompt func(string) api.PasswordFunc) error {
	mnemonic, err := prompt("Mnemonic: ")()
	if err != nil {
		return err
	}
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if n := len(strings.Fields(mnemonic)); n != 12 && n != 15 && n != 18 && n != 21 && n != 24 {
		return errors.Errorf("mnemonic has %d words", n)
	}

	password, err := prompt("Keystore password: ")()
	if err != nil {
		return err
	}
	confirm, err := prompt("Repeat password: ")()
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	ks, err := keystore.NewService(keystore.DefaultScryptParams())
	if err != nil {
		return errors.Wrap(err, "failed to create keystore service")
	}
	out, err := ks.Create(cmd.Context(), path, mnemonic, password)
	if err != nil {
		return err
	}

	cmd.Printf("Keystore %s written to %s\n", out.ID, path)
	return nil
}
