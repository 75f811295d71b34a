package local

import (
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
)

// Source names where a key's material comes from
type Source string

const (
	// SourceHex is a raw 32 byte private key (secp256k1 scalar or ed25519 seed),
	// or a 64 byte ed25519 seed||public key
	SourceHex Source = "hex"
	// SourceBase58 is a Solana 64 byte secret key in base58
	SourceBase58 Source = "base58"
	// SourceSuiPrivKey is a Sui "suiprivkey1..." bech32 key or base64 flag||seed
	SourceSuiPrivKey Source = "suiprivkey"
	// SourceMnemonic derives from an inline BIP39 mnemonic along Path
	SourceMnemonic Source = "mnemonic"
	// SourceKeystore derives from the mnemonic unlocked from the keystore file along Path
	SourceKeystore Source = "keystore"
	// SourceCardanoRoot derives from a 96 byte BIP32-Ed25519 root key (kL||kR||chain code) along Path
	SourceCardanoRoot Source = "cardano-root"
)

// KeySpec describes one key of the ring
type KeySpec struct {
	Source Source        `mapstructure:"source" toml:"source" json:"source"`
	Curve  staking.Curve `mapstructure:"curve" toml:"curve" json:"curve"`
	// Value is the key material or mnemonic; unused for the keystore source
	Value string `mapstructure:"value" toml:"value" json:"-"`
	// Path is the derivation path for mnemonic, keystore and cardano-root sources
	Path string `mapstructure:"path" toml:"path" json:"path"`
	// Passphrase is the optional BIP39 passphrase of an inline mnemonic
	Passphrase string `mapstructure:"passphrase" toml:"passphrase" json:"-"`
}

// Validate checks the fields required by the source
func (k KeySpec) Validate() error {
	switch k.Curve {
	case staking.CurveEd25519, staking.CurveSecp256k1:
	default:
		return errors.Errorf("unsupported curve %q", k.Curve)
	}

	switch k.Source {
	case SourceHex, SourceBase58, SourceSuiPrivKey:
		if k.Value == "" {
			return errors.Errorf("%s key has no value", k.Source)
		}
	case SourceMnemonic, SourceCardanoRoot:
		if k.Value == "" || k.Path == "" {
			return errors.Errorf("%s key needs a value and a path", k.Source)
		}
	case SourceKeystore:
		if k.Path == "" {
			return errors.New("keystore key needs a path")
		}
	default:
		return errors.Errorf("unknown key source %q", k.Source)
	}

	if k.Curve == staking.CurveSecp256k1 {
		switch k.Source {
		case SourceBase58, SourceSuiPrivKey, SourceCardanoRoot:
			return errors.Errorf("%s keys are ed25519", k.Source)
		}
	}
	return nil
}

// Well known derivation paths
const (
	PathEthereum       = "m/44'/60'/0'/0/0"
	PathSolana         = "m/44'/501'/0'/0'"
	PathSui            = "m/44'/784'/0'/0'/0'"
	PathCardanoPayment = "m/1852'/1815'/0'/0/0"
	PathCardanoStake   = "m/1852'/1815'/0'/2/0"
)
