package facilitator

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"settlement-pipeline/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator decorates an outgoing facilitator request.
type Authenticator interface {
	Authorize(req *http.Request) error
}

// APIKeyAuth sets a static bearer token when one is configured.
type APIKeyAuth struct {
	key string
}

// NewAPIKeyAuth returns an authenticator for generic facilitators. An empty
// key sends no Authorization header.
func NewAPIKeyAuth(key string) *APIKeyAuth {
	return &APIKeyAuth{key: key}
}

func (a *APIKeyAuth) Authorize(req *http.Request) error {
	if a.key != "" {
		req.Header.Set("Authorization", "Bearer "+a.key)
	}
	return nil
}

const (
	cdpIssuer   = "cdp"
	cdpAudience = "cdp_service"
	cdpTokenTTL = 120 * time.Second
)

// CDPAuth mints a per-request JWT signed with a CDP API key.
type CDPAuth struct {
	keyID  string
	key    any
	method jwt.SigningMethod
	now    func() time.Time
}

// NewCDPAuth parses keySecret as either a PEM EC private key (ES256) or a
// base64 Ed25519 key (EdDSA).
func NewCDPAuth(keyID, keySecret string) (*CDPAuth, error) {
	if keyID == "" || keySecret == "" {
		return nil, ErrMissingCredentials
	}
	secret := strings.ReplaceAll(strings.TrimSpace(keySecret), `\n`, "\n")

	a := &CDPAuth{keyID: keyID, now: time.Now}
	if strings.HasPrefix(secret, "-----BEGIN") {
		key, err := jwt.ParseECPrivateKeyFromPEM([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("%w: parse EC key: %v", domain.ErrFacilitatorConfig, err)
		}
		a.key = key
		a.method = jwt.SigningMethodES256
		return a, nil
	}

	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: decode Ed25519 key: %v", domain.ErrFacilitatorConfig, err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		a.key = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		a.key = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("%w: Ed25519 key has %d bytes", domain.ErrFacilitatorConfig, len(raw))
	}
	a.method = jwt.SigningMethodEdDSA
	return a, nil
}

func (a *CDPAuth) Authorize(req *http.Request) error {
	token, err := a.token(req.Method, req.URL.Host+req.URL.Path)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *CDPAuth) token(method, hostPath string) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":  a.keyID,
		"iss":  cdpIssuer,
		"aud":  []string{cdpAudience},
		"nbf":  now.Unix(),
		"exp":  now.Add(cdpTokenTTL).Unix(),
		"uris": []string{method + " " + hostPath},
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate jwt nonce: %w", err)
	}

	token := jwt.NewWithClaims(a.method, claims)
	token.Header["kid"] = a.keyID
	token.Header["nonce"] = hex.EncodeToString(nonce)

	signed, err := token.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign cdp jwt: %w", err)
	}
	return signed, nil
}
