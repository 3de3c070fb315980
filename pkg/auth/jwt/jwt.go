// Package jwt authenticates RSA-signed JWT bearer tokens against keys
// published at a JWKS endpoint.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/pysandbox/pkg/auth"
	"github.com/rhuss/pysandbox/pkg/debug"
)

// Config configures the authenticator.
type Config struct {
	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string

	JWKSURL string

	// Claim names. Defaults: "sub", "tenant_id", "tier", "scope".
	SubjectClaim string
	TenantClaim  string
	TierClaim    string
	ScopesClaim  string

	// CacheTTL defaults to one hour.
	CacheTTL time.Duration

	// HTTPClient defaults to a client with a 10 second timeout.
	HTTPClient *http.Client
}

func (c *Config) setDefaults() {
	if c.SubjectClaim == "" {
		c.SubjectClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	cfg    Config
	keys   *keySet
	parser *jwtlib.Parser
}

// New creates an Authenticator.
func New(cfg Config) *Authenticator {
	cfg.setDefaults()

	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		cfg:    cfg,
		keys:   &keySet{url: cfg.JWKSURL, ttl: cfg.CacheTTL, client: cfg.HTTPClient},
		parser: jwtlib.NewParser(opts...),
	}
}

// Authenticate abstains unless the bearer token has the three-segment JWT
// shape, so opaque API keys can be handled by a later authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := auth.BearerToken(r)
	if !ok || strings.Count(raw, ".") != 2 {
		return auth.Result{Decision: auth.Abstain}
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.keys.get(ctx, kid)
	})
	if err != nil {
		debug.Log("auth", "jwt rejected", "error", err)
		return auth.Deny(fmt.Errorf("invalid JWT: %w", err))
	}

	id := &auth.Identity{
		Subject: stringClaim(claims, a.cfg.SubjectClaim),
		Tenant:  stringClaim(claims, a.cfg.TenantClaim),
		Tier:    stringClaim(claims, a.cfg.TierClaim),
		Scopes:  scopes(claims[a.cfg.ScopesClaim]),
	}
	if id.Subject == "" {
		return auth.Deny(fmt.Errorf("JWT has no %q claim", a.cfg.SubjectClaim))
	}
	return auth.Allow(id)
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

// scopes accepts a space separated string or a JSON array of strings.
func scopes(v any) []string {
	var out []string
	switch v := v.(type) {
	case string:
		out = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// keySet caches the RSA keys of a JWKS document. An unknown kid forces a
// refresh, which lets the issuer rotate keys without waiting for the TTL.
type keySet struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (s *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[kid]; ok && time.Since(s.fetchedAt) < s.ttl {
		return key, nil
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not in JWKS", kid)
	}
	return key, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// refresh must be called with s.mu held.
func (s *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("create JWKS request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned HTTP %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaKey()
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}

	s.keys = keys
	s.fetchedAt = time.Now()
	debug.Log("auth", "JWKS refreshed", "keys", len(keys))
	return nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("RSA exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
