// Package jwt validates RSA-signed bearer tokens against a JWKS
// endpoint and maps their claims onto a caller identity.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/chorus-llm/chorus/pkg/auth"
)

// Config holds the JWT authenticator configuration. Empty Issuer or
// Audience skips the corresponding check.
type Config struct {
	Issuer   string
	Audience string

	// JWKSURL names the key-set endpoint used for signature verification.
	JWKSURL string

	// UserClaim is the claim used as the identity subject. Default "sub".
	UserClaim string

	// TierClaim is the claim carrying the service tier. Default "tier".
	TierClaim string

	// ScopesClaim is the claim carrying scopes, either a space-separated
	// string or a JSON array. Default "scope".
	ScopesClaim string

	// CacheTTL bounds how long fetched keys are reused. Default 1 hour.
	CacheTTL time.Duration

	// HTTPClient overrides the client used for JWKS fetches.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	cfg  Config
	keys *keyCache
}

// New creates a JWT authenticator.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()
	return &Authenticator{
		cfg: cfg,
		keys: &keyCache{
			byKid:  make(map[string]*rsa.PublicKey),
			ttl:    cfg.CacheTTL,
			url:    cfg.JWKSURL,
			client: cfg.HTTPClient,
		},
	}
}

// Authenticate votes on the request's Authorization header. A missing
// header or non-Bearer scheme abstains so other authenticators can run;
// a present but invalid token rejects.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return auth.Result{Decision: auth.Abstain}
	}

	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("empty bearer token")}
	}

	token, err := jwtlib.Parse(raw, a.resolveKey(ctx), a.parserOptions()...)
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid JWT claims")}
	}

	subject := stringClaim(claims, a.cfg.UserClaim)
	if subject == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("JWT missing %q claim", a.cfg.UserClaim)}
	}

	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     subject,
			ServiceTier: stringClaim(claims, a.cfg.TierClaim),
			Scopes:      scopesClaim(claims, a.cfg.ScopesClaim),
			Metadata:    make(map[string]string),
		},
	}
}

// resolveKey returns the key lookup callback for the parser: only RSA
// signatures are accepted, and the kid header selects the JWKS key.
func (a *Authenticator) resolveKey(ctx context.Context) jwtlib.Keyfunc {
	return func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token missing kid header")
		}
		key, err := a.keys.get(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("fetching JWKS key for kid %q: %w", kid, err)
		}
		return key, nil
	}
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.cfg.Audience))
	}
	return opts
}

func stringClaim(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// scopesClaim accepts either "read write admin" or ["read","write","admin"].
func scopesClaim(claims jwtlib.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		parts := strings.Fields(v)
		if len(parts) == 0 {
			return nil
		}
		return parts
	case []interface{}:
		var scopes []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	default:
		return nil
	}
}

// keyCache holds RSA public keys fetched from the JWKS endpoint,
// refreshed when the TTL lapses or an unknown kid appears.
type keyCache struct {
	mu        sync.RWMutex
	byKid     map[string]*rsa.PublicKey
	fetchedAt time.Time
	ttl       time.Duration
	url       string
	client    *http.Client
}

func (c *keyCache) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	if key, ok := c.byKid[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		c.mu.RUnlock()
		return key, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if key, ok := c.byKid[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	key, ok := c.byKid[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}
	return key, nil
}

// refresh fetches the key set. Caller holds the write lock.
func (c *keyCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("creating JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading JWKS response: %w", err)
	}

	var doc struct {
		Keys []jwkKey `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		pub, err := jwk.publicKey()
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", jwk.Kid, "error", err)
			continue
		}
		keys[jwk.Kid] = pub
	}

	c.byKid = keys
	c.fetchedAt = time.Now()

	slog.Debug("JWKS cache refreshed", "keys", len(keys), "url", c.url)
	return nil
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"` // modulus, base64url
	E   string `json:"e"` // exponent, base64url
}

func (k jwkKey) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() {
		return nil, fmt.Errorf("RSA exponent too large")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
