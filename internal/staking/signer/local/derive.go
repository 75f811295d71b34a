package local

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

const (
	hardenedOffset  = 0x80000000
	privateKeyBytes = 32
)

// parsePath parses a BIP32 path such as "m/44'/60'/0'/0/0".
// Hardened segments take a trailing ' or h.
func parsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, errors.Errorf("invalid derivation path: %s", path)
	}

	indices := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if part == "" {
			return nil, errors.Errorf("empty segment in derivation path: %s", path)
		}
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}
		index, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, errors.Errorf("invalid path segment: %s", part)
		}
		if hardened {
			index += hardenedOffset
		}
		indices = append(indices, uint32(index))
	}
	return indices, nil
}

// deriveSecp256k1 walks a BIP32 path from seed and returns the 32 byte private key.
// Caller must zero the result.
func deriveSecp256k1(seed []byte, path string) ([]byte, error) {
	indices, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}
	for _, index := range indices {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	// go-bip32 drops leading zero bytes of the scalar
	out := make([]byte, privateKeyBytes)
	copy(out[privateKeyBytes-len(key.Key):], key.Key)
	return out, nil
}

// deriveSLIP10 walks a hardened-only SLIP-0010 ed25519 path and returns the 32 byte seed.
// Caller must zero the result.
func deriveSLIP10(seed []byte, path string) ([]byte, error) {
	indices, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	node := mac.Sum(nil)
	defer zero(node)

	for _, index := range indices {
		if index < hardenedOffset {
			return nil, errors.Errorf("ed25519 derivation supports hardened segments only, got %d", index)
		}
		data := make([]byte, 0, 1+privateKeyBytes+4)
		data = append(data, 0x00)
		data = append(data, node[:privateKeyBytes]...)
		data = binary.BigEndian.AppendUint32(data, index)

		mac := hmac.New(sha512.New, node[privateKeyBytes:])
		mac.Write(data)
		zero(data)
		next := mac.Sum(nil)
		copy(node, next)
		zero(next)
	}

	out := make([]byte, privateKeyBytes)
	copy(out, node[:privateKeyBytes])
	return out, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
