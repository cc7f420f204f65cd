// Package oidctest runs an in-process OIDC issuer for admin auth tests.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyID = "soqlrestore-test"

// Issuer serves discovery and JWKS over TLS and signs RS256 tokens with the
// advertised key.
type Issuer struct {
	// URL is the issuer URL, also the iss claim of minted tokens.
	URL string
	// CAFile is a PEM file trusting the issuer's self-signed certificate.
	CAFile string

	key *rsa.PrivateKey
}

// NewIssuer starts an issuer that is closed when t finishes.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate issuer key: %v", err)
	}
	jwks, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": keyID,
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})
	if err != nil {
		t.Fatalf("encode jwks: %v", err)
	}

	mux := http.NewServeMux()
	server := httptest.NewTLSServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                server.URL,
			"jwks_uri":                              server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	})

	caFile := filepath.Join(t.TempDir(), "issuer_ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	if err := os.WriteFile(caFile, caPEM, 0o600); err != nil {
		t.Fatalf("write issuer ca: %v", err)
	}

	return &Issuer{URL: server.URL, CAFile: caFile, key: key}
}

// Claims returns standard claims for subject and audience expiring after ttl.
// A negative ttl yields a token that has already expired.
func (i *Issuer) Claims(subject, audience string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	issuedAt := now
	if ttl < 0 {
		issuedAt = now.Add(2 * ttl)
	}
	return jwt.MapClaims{
		"iss": i.URL,
		"sub": subject,
		"aud": audience,
		"iat": issuedAt.Unix(),
		"nbf": issuedAt.Add(-time.Minute).Unix(),
		"exp": now.Add(ttl).Unix(),
	}
}

// Token signs claims with the issuer key.
func (i *Issuer) Token(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(i.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
