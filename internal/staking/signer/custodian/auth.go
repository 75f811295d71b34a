package custodian

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const tokenLifetime = 30 * time.Second

// requestClaims are the claims the custodian expects in every request token
type requestClaims struct {
	URI      string `json:"uri"`
	Nonce    string `json:"nonce"`
	BodyHash string `json:"bodyHash"`
	jwt.RegisteredClaims
}

type tokenSigner struct {
	apiKey string
	key    *rsa.PrivateKey
	now    func() time.Time
}

func newTokenSigner(apiKey string, pemBytes []byte) (*tokenSigner, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse custodian API secret")
	}
	return &tokenSigner{apiKey: apiKey, key: key, now: time.Now}, nil
}

// token signs a short lived RS256 JWT binding the request path and body
func (t *tokenSigner) token(uri string, body []byte) (string, error) {
	sum := sha256.Sum256(body)
	now := t.now()

	claims := requestClaims{
		URI:      uri,
		Nonce:    uuid.NewString(),
		BodyHash: hex.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   t.apiKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(t.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign request token")
	}
	return signed, nil
}
