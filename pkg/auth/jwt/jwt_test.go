package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/pysandbox/pkg/auth"
)

const (
	testKID    = "kid-1"
	testIssuer = "https://issuer.example.com"
	testAud    = "pysandbox"
)

var signingKey = func() *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return k
}()

func serveJWKS(t *testing.T, fetches *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			fetches.Add(1)
		}
		pub := signingKey.PublicKey
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{"kty": "EC", "kid": "ignored-ec"},
				{"kty": "RSA", "kid": "enc-only", "use": "enc", "n": "AQAB", "e": "AQAB"},
				{
					"kty": "RSA",
					"kid": testKID,
					"use": "sig",
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sign(t *testing.T, claims jwtlib.MapClaims, kid string) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(signingKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func baseClaims() jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"aud": testAud,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func with(c jwtlib.MapClaims, kv ...any) jwtlib.MapClaims {
	for i := 0; i+1 < len(kv); i += 2 {
		k := kv[i].(string)
		if kv[i+1] == nil {
			delete(c, k)
			continue
		}
		c[k] = kv[i+1]
	}
	return c
}

func authenticate(a *Authenticator, header string) auth.Result {
	r := httptest.NewRequest("POST", "/mcp", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return a.Authenticate(context.Background(), r)
}

func TestAuthenticate(t *testing.T) {
	srv := serveJWKS(t, nil)
	a := New(Config{Issuer: testIssuer, Audience: testAud, JWKSURL: srv.URL})

	tests := []struct {
		name         string
		header       string
		wantDecision auth.Decision
		wantIdentity *auth.Identity
	}{
		{
			name:         "valid",
			header:       "Bearer " + sign(t, baseClaims(), testKID),
			wantDecision: auth.Yes,
			wantIdentity: &auth.Identity{Subject: "user-1"},
		},
		{
			name: "tenant tier and string scopes",
			header: "Bearer " + sign(t, with(baseClaims(),
				"tenant_id", "org-7", "tier", "gold", "scope", "execute read"), testKID),
			wantDecision: auth.Yes,
			wantIdentity: &auth.Identity{Subject: "user-1", Tenant: "org-7", Tier: "gold", Scopes: []string{"execute", "read"}},
		},
		{
			name:         "array scopes",
			header:       "Bearer " + sign(t, with(baseClaims(), "scope", []any{"execute", 3, "admin"}), testKID),
			wantDecision: auth.Yes,
			wantIdentity: &auth.Identity{Subject: "user-1", Scopes: []string{"execute", "admin"}},
		},
		{name: "expired", header: "Bearer " + sign(t, with(baseClaims(), "exp", time.Now().Add(-time.Hour).Unix()), testKID), wantDecision: auth.No},
		{name: "wrong audience", header: "Bearer " + sign(t, with(baseClaims(), "aud", "other"), testKID), wantDecision: auth.No},
		{name: "wrong issuer", header: "Bearer " + sign(t, with(baseClaims(), "iss", "https://evil.example.com"), testKID), wantDecision: auth.No},
		{name: "missing subject", header: "Bearer " + sign(t, with(baseClaims(), "sub", nil), testKID), wantDecision: auth.No},
		{name: "missing kid", header: "Bearer " + sign(t, baseClaims(), ""), wantDecision: auth.No},
		{name: "unknown kid", header: "Bearer " + sign(t, baseClaims(), "rotated-away"), wantDecision: auth.No},
		{name: "garbage jwt", header: "Bearer aaa.bbb.ccc", wantDecision: auth.No},
		{name: "opaque api key", header: "Bearer sk-123", wantDecision: auth.Abstain},
		{name: "no header", wantDecision: auth.Abstain},
		{name: "basic scheme", header: "Basic dXNlcjpwdw==", wantDecision: auth.Abstain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := authenticate(a, tt.header)
			if res.Decision != tt.wantDecision {
				t.Fatalf("Decision = %s, want %s (err %v)", res.Decision, tt.wantDecision, res.Err)
			}
			if tt.wantDecision == auth.No && res.Err == nil {
				t.Error("No decision without error")
			}
			if tt.wantIdentity == nil {
				return
			}
			got := res.Identity
			if got.Subject != tt.wantIdentity.Subject || got.Tenant != tt.wantIdentity.Tenant || got.Tier != tt.wantIdentity.Tier {
				t.Errorf("identity = %+v, want %+v", got, tt.wantIdentity)
			}
			if !slices.Equal(got.Scopes, tt.wantIdentity.Scopes) {
				t.Errorf("scopes = %v, want %v", got.Scopes, tt.wantIdentity.Scopes)
			}
		})
	}
}

func TestAuthenticate_CustomClaims(t *testing.T) {
	srv := serveJWKS(t, nil)
	a := New(Config{
		JWKSURL:      srv.URL,
		SubjectClaim: "email",
		TenantClaim:  "org",
		ScopesClaim:  "permissions",
	})

	token := sign(t, jwtlib.MapClaims{
		"email":       "dev@example.com",
		"org":         "acme",
		"permissions": []any{"execute"},
		"exp":         time.Now().Add(time.Hour).Unix(),
	}, testKID)

	res := authenticate(a, "Bearer "+token)
	if res.Decision != auth.Yes {
		t.Fatalf("Decision = %s (err %v)", res.Decision, res.Err)
	}
	if res.Identity.Subject != "dev@example.com" || res.Identity.Tenant != "acme" {
		t.Errorf("identity = %+v", res.Identity)
	}
}

func TestKeySetCaching(t *testing.T) {
	var fetches atomic.Int32
	srv := serveJWKS(t, &fetches)
	a := New(Config{JWKSURL: srv.URL, CacheTTL: time.Hour})
	token := "Bearer " + sign(t, with(baseClaims(), "aud", nil, "iss", nil), testKID)

	for range 3 {
		if res := authenticate(a, token); res.Decision != auth.Yes {
			t.Fatalf("Decision = %s (err %v)", res.Decision, res.Err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("JWKS fetched %d times, want 1", n)
	}

	authenticate(a, "Bearer "+sign(t, baseClaims(), "new-kid"))
	if n := fetches.Load(); n != 2 {
		t.Errorf("unknown kid should refresh: fetched %d times, want 2", n)
	}
}

func TestKeySetEndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := New(Config{JWKSURL: srv.URL})
	if res := authenticate(a, "Bearer "+sign(t, baseClaims(), testKID)); res.Decision != auth.No {
		t.Errorf("Decision = %s, want No", res.Decision)
	}
}
