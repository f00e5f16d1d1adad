package githubapp

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"codemorph/pkg/domain"
)

// appJWTLifetime is GitHub's maximum app JWT lifetime.
const appJWTLifetime = 10 * time.Minute

// clockSkew backdates the issued-at claim so GitHub accepts tokens from
// slightly fast clocks.
const clockSkew = time.Minute

// Signer mints short-lived GitHub App JWTs from the app private key. It is
// stateless; callers inject it wherever app-level authentication is needed.
type Signer struct {
	appID int64
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewSigner parses the PEM-encoded RSA private key (PKCS1 or PKCS8).
func NewSigner(appID int64, pemBytes []byte) (*Signer, error) {
	if appID <= 0 {
		return nil, fmt.Errorf("%w: app id required", domain.ErrCredential)
	}
	key, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse app private key: %v", domain.ErrCredential, err)
	}
	return &Signer{appID: appID, key: key, now: time.Now}, nil
}

// AppID returns the GitHub App identifier.
func (s *Signer) AppID() int64 { return s.appID }

// AppJWT returns a signed RS256 JWT with the app id as issuer, valid for
// ten minutes.
func (s *Signer) AppJWT() (string, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-clockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: sign app jwt: %v", domain.ErrCredential, err)
	}
	return signed, nil
}

func parseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}
