package util

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Zero overwrites b with zeros
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// DecodeHex decodes a hex string with or without 0x prefix
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode hex")
	}
	return b, nil
}

// Encoding is the text encoding of a serialized transaction payload
type Encoding string

const (
	// EncodingHex is the staking API's encoding and the default
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding returns the named encoding; the empty name is hex
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(name))) {
	case "", EncodingHex:
		return EncodingHex, nil
	case EncodingBase64:
		return EncodingBase64, nil
	default:
		return "", errors.Errorf("unknown payload encoding %q, expected hex or base64", name)
	}
}

// DecodePayload decodes a serialized transaction payload in the given encoding.
// The encoding is never guessed: a base64 string made of hex digits is valid hex too.
func DecodePayload(s string, enc Encoding) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty payload")
	}

	switch enc {
	case "", EncodingHex:
		return DecodeHex(s)
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode base64")
		}
		return b, nil
	default:
		return nil, errors.Errorf("unknown payload encoding %q", enc)
	}
}
