package serverapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"soqlrestore/internal/config"
	"soqlrestore/internal/describe"
	"soqlrestore/internal/restore"
	"soqlrestore/internal/testutil/oidctest"
)

func routerFixture(t *testing.T) (describe.Transport, *describe.StoreTransport) {
	t.Helper()
	transport, err := describe.NewFileTransport(strings.NewReader(fixtureYAML))
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return transport, describe.NewStoreTransport(transport, describe.NewMemoryStore())
}

func TestBuildRouter_RefreshDisabledReturnsNotFound(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			HealthCheckTimeout: time.Second,
			Admin: config.AdminConfig{
				RefreshEnabled: false,
				AuthToken:      "secret-token",
			},
		},
	}
	_, store := routerFixture(t)

	router, err := buildRouter(cfg, testLogger(), restore.NewRestorer(store), store, store, metricsSet{})
	if err != nil {
		t.Fatalf("unexpected buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/describe/refresh", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestBuildRouter_RefreshWithoutStoreReturnsNotFound(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			HealthCheckTimeout: time.Second,
			Admin: config.AdminConfig{
				RefreshEnabled: true,
				AuthToken:      "secret-token",
			},
		},
	}
	transport, _ := routerFixture(t)

	router, err := buildRouter(cfg, testLogger(), restore.NewRestorer(transport), transport, nil, metricsSet{})
	if err != nil {
		t.Fatalf("unexpected buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/describe/refresh", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestBuildRouter_TokenModeGuardsRefresh(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			HealthCheckTimeout: time.Second,
			Admin: config.AdminConfig{
				RefreshEnabled: true,
				AuthToken:      "secret-token",
			},
		},
	}
	_, store := routerFixture(t)
	if _, err := store.DescribeObject(context.Background(), "Account"); err != nil {
		t.Fatalf("warm store: %v", err)
	}

	router, err := buildRouter(cfg, testLogger(), restore.NewRestorer(store), store, store, metricsSet{})
	if err != nil {
		t.Fatalf("unexpected buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/describe/refresh", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/describe/refresh", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestBuildAdminAuth_OIDCModeUsesOIDCMiddlewarePath(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Admin: config.AdminConfig{
				RefreshEnabled: true,
				AuthToken:      "ignored-when-oidc-is-on",
			},
			Auth: config.AuthConfig{
				OIDCEnabled: true,
				// Missing issuer/audience should fail during OIDC middleware setup.
			},
		},
	}

	_, err := buildAdminAuth(cfg, testLogger(), nil)
	if err == nil {
		t.Fatalf("expected OIDC setup error, got nil")
	}
	if !strings.Contains(err.Error(), "oidc auth enabled but issuer/audience not configured") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildAdminAuth_NoAuthConfigured(t *testing.T) {
	auth, err := buildAdminAuth(&config.Config{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != nil {
		t.Fatalf("expected no admin middleware")
	}
}

func TestBuildRouter_OIDCModeGuardsRefresh(t *testing.T) {
	issuer := oidctest.NewIssuer(t)
	cfg := &config.Config{
		Server: config.ServerConfig{
			HealthCheckTimeout: time.Second,
			Admin: config.AdminConfig{
				RefreshEnabled: true,
				AuthToken:      "ignored-when-oidc-is-on",
			},
			Auth: config.AuthConfig{
				OIDCEnabled:   true,
				OIDCIssuerURL: issuer.URL,
				OIDCAudience:  "soqlrestore-admin",
				OIDCCAFile:    issuer.CAFile,
			},
		},
	}
	_, store := routerFixture(t)
	router, err := buildRouter(cfg, testLogger(), restore.NewRestorer(store), store, store, metricsSet{})
	if err != nil {
		t.Fatalf("unexpected buildRouter error: %v", err)
	}

	cases := []struct {
		name          string
		authorization string
		adminToken    string
		status        int
	}{
		{
			name:          "valid token",
			authorization: "Bearer " + issuer.Token(t, issuer.Claims("ops@example.com", "soqlrestore-admin", time.Hour)),
			status:        http.StatusOK,
		},
		{
			name:          "wrong audience",
			authorization: "Bearer " + issuer.Token(t, issuer.Claims("ops@example.com", "another-service", time.Hour)),
			status:        http.StatusUnauthorized,
		},
		{
			name:          "expired token",
			authorization: "Bearer " + issuer.Token(t, issuer.Claims("ops@example.com", "soqlrestore-admin", -time.Hour)),
			status:        http.StatusUnauthorized,
		},
		{
			name:       "admin token is not accepted",
			adminToken: "ignored-when-oidc-is-on",
			status:     http.StatusUnauthorized,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/describe/refresh?object=Account", nil)
			if tc.authorization != "" {
				req.Header.Set("Authorization", tc.authorization)
			}
			if tc.adminToken != "" {
				req.Header.Set("X-Admin-Token", tc.adminToken)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}
