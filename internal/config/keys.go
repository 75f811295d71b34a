package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking/signer/local"
)

type keyRingFile struct {
	Keys map[string]local.KeySpec `toml:"keys"`
}

// LoadKeyRing reads the local signer key ring from a TOML file of [keys.<ref>] tables.
// Values and passphrases are expanded against the environment, so secrets can stay out of the file:
//
//	[keys.validator]
//	source = "hex"
//	curve = "secp256k1"
//	value = "${VALIDATOR_KEY}"
func LoadKeyRing(path string) (map[string]local.KeySpec, error) {
	var file keyRingFile
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode key ring")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown key ring field %s", undecoded[0])
	}

	for ref, spec := range file.Keys {
		spec.Value = os.ExpandEnv(spec.Value)
		spec.Passphrase = os.ExpandEnv(spec.Passphrase)
		if err := spec.Validate(); err != nil {
			return nil, errors.Wrapf(err, "invalid key %q", ref)
		}
		file.Keys[ref] = spec
	}
	return file.Keys, nil
}
