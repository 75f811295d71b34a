package keystore

import "context"

// Service stores a mnemonic in an encrypted keystore file
type Service interface {
	// Create encrypts mnemonic with password and writes it to path; an existing file is not overwritten
	Create(ctx context.Context, path string, mnemonic string, password string) (*KeystoreJSON, error)

	// Unlock reads the keystore at path and decrypts the mnemonic
	Unlock(ctx context.Context, path string, password string) (string, error)

	// Exists reports whether a keystore file exists at path
	Exists(path string) (bool, error)
}

// KeystoreJSON is the Ethereum keystore v3 layout, carrying a mnemonic as plaintext
//
//nolint:revive // KeystoreJSON is the standard name for Ethereum keystore JSON structure
type KeystoreJSON struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	Crypto  struct {
		Ciphertext   string `json:"ciphertext"`
		CipherParams struct {
			IV string `json:"iv"`
		} `json:"cipherparams"`
		Cipher    string `json:"cipher"`
		KDF       string `json:"kdf"`
		KDFParams struct {
			DKLen int    `json:"dklen"`
			Salt  string `json:"salt"`
			N     int    `json:"n"`
			R     int    `json:"r"`
			P     int    `json:"p"`
		} `json:"kdfparams"`
		MAC string `json:"mac"`
	} `json:"crypto"`
}

// ScryptParams are the scrypt KDF parameters
type ScryptParams struct {
	DKLen int
	N     int
	R     int
	P     int
}

// DefaultScryptParams returns the keystore v3 "standard" parameters
func DefaultScryptParams() ScryptParams {
	return ScryptParams{
		DKLen: 32,
		N:     262144, // 2^18
		R:     8,
		P:     1,
	}
}

// LightScryptParams trades strength for speed; tests and throwaway keystores only
func LightScryptParams() ScryptParams {
	return ScryptParams{
		DKLen: 32,
		N:     4096,
		R:     8,
		P:     6,
	}
}
