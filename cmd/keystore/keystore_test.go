package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/staking/signer/keystore"
	"github/chapool/go-staking/internal/test"
)

const mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func scripted(answers ...string) func(string) api.PasswordFunc {
	return func(string) api.PasswordFunc {
		return func() (string, error) {
			a := answers[0]
			answers = answers[1:]
			return a, nil
		}
	}
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.json")
	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())

	require.NoError(t, create(cmd, path, scripted("  "+mnemonic+"\n", "pw", "pw")))

	ks, err := keystore.NewService(keystore.LightScryptParams())
	require.NoError(t, err)
	got, err := ks.Unlock(t.Context(), path, "pw")
	require.NoError(t, err)
	assert.Equal(t, mnemonic, got)

	// never overwritten
	require.Error(t, create(cmd, path, scripted(mnemonic, "pw", "pw")))
}

func TestCreateRejectsInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.json")
	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())

	require.Error(t, create(cmd, path, scripted("abandon about", "pw", "pw")))
	require.Error(t, create(cmd, path, scripted(mnemonic, "pw", "other")))
	require.Error(t, create(cmd, path, scripted(mnemonic, "", "")))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestKeyItems(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		items, err := KeyItems(test.KeyRing(), s)
		require.NoError(t, err)
		require.Len(t, items, 3)

		assert.Equal(t, test.KeyEthereum, items[0].Ref)
		key, err := crypto.HexToECDSA(test.EthereumKey)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), items[0].Addresses["ethereum"])

		assert.Equal(t, test.KeySolanaFunding, items[1].Ref)
		assert.Equal(t, test.SolanaKey(1).PublicKey().String(), items[1].Addresses["solana"])
		assert.NotEmpty(t, items[1].Addresses["sui"])
		assert.Len(t, items[1].Addresses["cardano_key_hash"], 56)
	})
}
