package keystore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain/cardano"
	"github/chapool/go-staking/internal/staking/chain/ethereum"
	"github/chapool/go-staking/internal/staking/chain/sui"
	"github/chapool/go-staking/internal/staking/signer/local"
	"github/chapool/go-staking/internal/util/command"
)

// KeyItem is one key of the ring and the addresses it controls
type KeyItem struct {
	Ref       string            `json:"ref"`
	Curve     string            `json:"curve"`
	PublicKey string            `json:"publicKey"`
	Addresses map[string]string `json:"addresses"`
}

func newKeys() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Lists the local key ring with its public keys and addresses",
		Long: `Lists every key of SIGNER_KEYS_FILE. Keys deriving from the keystore unlock it first.
Private key material is never printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			return command.WithServer(cmd.Context(), cfg, func(_ context.Context, s *api.Server) error {
				keys, err := config.LoadKeyRing(cfg.Signer.KeysFile)
				if err != nil {
					return err
				}
				items, err := KeyItems(keys, s)
				if err != nil {
					return err
				}

				out, err := json.MarshalIndent(items, "", "  ")
				if err != nil {
					return errors.Wrap(err, "failed to marshal keys")
				}
				cmd.Println(string(out))
				return nil
			})
		},
	}
}

// KeyItems resolves the public keys of the ring, in reference order
func KeyItems(keys map[string]local.KeySpec, s *api.Server) ([]*KeyItem, error) {
	pubs, err := local.PublicKeys(keys, s.Seeds)
	if err != nil {
		return nil, err
	}

	items := make([]*KeyItem, 0, len(pubs))
	for ref, pub := range pubs {
		items = append(items, &KeyItem{
			Ref:       ref,
			Curve:     string(pub.Curve),
			PublicKey: pub.Hex(),
			Addresses: addresses(pub),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Ref < items[j].Ref })
	return items, nil
}

func addresses(pub staking.PublicKey) map[string]string {
	out := make(map[string]string)
	switch pub.Curve {
	case staking.CurveSecp256k1:
		if addr, err := ethereum.PublicKeyAddress(pub.Bytes); err == nil {
			out[string(staking.ChainEthereum)] = addr.Hex()
		}
	case staking.CurveEd25519:
		out[string(staking.ChainSolana)] = solana.PublicKeyFromBytes(pub.Bytes).String()
		out[string(staking.ChainSui)] = sui.PublicKeyAddress(pub.Bytes).String()
		out[string(staking.ChainCardano)+"_key_hash"] = hex.EncodeToString(cardano.KeyHash(pub.Bytes))
	}
	return out
}
