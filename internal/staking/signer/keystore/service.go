package keystore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/util"
)

const fileMode = 0o600

type service struct {
	params ScryptParams
}

// NewService creates a keystore service encrypting with the given scrypt parameters
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(params ScryptParams) (Service, error) {
	if params.N <= 1 || params.N&(params.N-1) != 0 {
		return nil, errors.Errorf("scrypt N must be a power of two > 1, got %d", params.N)
	}
	return &service{params: params}, nil
}

func (s *service) Create(ctx context.Context, path string, mnemonic string, password string) (*KeystoreJSON, error) {
	log := util.LogFromContext(ctx)

	exists, err := s.Exists(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check keystore existence")
	}
	if exists {
		return nil, errors.Errorf("keystore already exists at %s", path)
	}

	ks, err := Encrypt(mnemonic, password, s.params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encrypt mnemonic")
		return nil, errors.Wrap(err, "failed to encrypt mnemonic")
	}

	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal keystore JSON")
	}

	if dir := filepath.Dir(path); dir != "" {
		//nolint:mnd // owner-only directory
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(err, "failed to create keystore directory")
		}
	}
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return nil, errors.Wrap(err, "failed to write keystore")
	}

	log.Info().Str("keystore_id", ks.ID).Str("path", path).Msg("Keystore created")
	return ks, nil
}

func (s *service) Unlock(ctx context.Context, path string, password string) (string, error) {
	log := util.LogFromContext(ctx)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to read keystore")
	}

	var ks KeystoreJSON
	if err := json.Unmarshal(data, &ks); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal keystore JSON")
	}

	mnemonic, err := Decrypt(&ks, password)
	if err != nil {
		log.Error().Err(err).Str("keystore_id", ks.ID).Msg("Failed to decrypt mnemonic")
		return "", errors.Wrap(err, "failed to decrypt mnemonic")
	}

	return mnemonic, nil
}

func (s *service) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrap(err, "failed to stat keystore")
}
