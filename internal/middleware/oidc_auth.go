package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"soqlrestore/internal/logging"
	"soqlrestore/internal/observability"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// OIDCAuthConfig controls bearer token validation for admin routes.
type OIDCAuthConfig struct {
	Enabled   bool
	IssuerURL string
	Audience  string
	ClockSkew time.Duration
	// CAFile adds a PEM bundle to the system roots when fetching discovery
	// documents and JWKS.
	CAFile string
}

type authContextKey struct{}

// AuthContext identifies the caller of an admin route.
type AuthContext struct {
	Subject  string
	Issuer   string
	Audience []string
	Claims   map[string]interface{}
}

// Method reports how the caller authenticated.
func (a AuthContext) Method() string {
	if method, ok := a.Claims["auth_method"].(string); ok && method != "" {
		return method
	}
	return observability.AuthMethodNone
}

// AuthFromContext returns the auth context from a request context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// WithAuthContext stores auth on ctx.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

var (
	errTokenExpired     = errors.New("token expired")
	errTokenNotYetValid = errors.New("token not valid yet")
)

// authRejection is a failed credential check. outcome is the metric label,
// message is what the caller sees.
type authRejection struct {
	outcome string
	message string
	err     error
}

// bearerVerifier checks signed tokens against the issuer's published keys.
type bearerVerifier struct {
	issuer   string
	skew     time.Duration
	verifier *oidc.IDTokenVerifier
}

func newBearerVerifier(cfg OIDCAuthConfig) (*bearerVerifier, error) {
	if cfg.IssuerURL == "" || cfg.Audience == "" {
		return nil, errors.New("oidc auth enabled but issuer/audience not configured")
	}
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid oidc issuer url: %w", err)
	}
	if issuerURL.Scheme != "https" {
		return nil, errors.New("oidc issuer url must use https")
	}

	httpClient, err := newOIDCHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oidc provider: %w", err)
	}

	skew := cfg.ClockSkew
	if skew == 0 {
		skew = 2 * time.Minute
	}
	return &bearerVerifier{
		issuer: cfg.IssuerURL,
		skew:   skew,
		// Expiry is checked by validateTimeClaims so the configured skew applies.
		verifier: provider.Verifier(&oidc.Config{
			ClientID:        cfg.Audience,
			SkipExpiryCheck: true,
		}),
	}, nil
}

func (v *bearerVerifier) authenticate(ctx context.Context, header string) (AuthContext, *authRejection) {
	raw := bearerToken(header)
	if raw == "" {
		return AuthContext{}, &authRejection{outcome: "missing_token", message: "missing bearer token"}
	}

	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		outcome := "invalid_token"
		if strings.Contains(err.Error(), "expected audience") {
			outcome = "wrong_audience"
		}
		return AuthContext{}, &authRejection{outcome: outcome, message: "invalid token", err: err}
	}

	claims := map[string]interface{}{}
	if err := idToken.Claims(&claims); err != nil {
		return AuthContext{}, &authRejection{outcome: "invalid_claims", message: "invalid token claims", err: err}
	}
	if err := validateTimeClaims(claims, v.skew); err != nil {
		outcome := "invalid_token"
		if errors.Is(err, errTokenExpired) {
			outcome = "expired_token"
		}
		return AuthContext{}, &authRejection{outcome: outcome, message: "invalid token", err: err}
	}

	claims["auth_method"] = observability.AuthMethodOIDC
	subject, _ := claims["sub"].(string)
	return AuthContext{
		Subject:  subject,
		Issuer:   v.issuer,
		Audience: extractAudience(claims),
		Claims:   claims,
	}, nil
}

// OIDCAuthMiddleware validates Bearer tokens when enabled. metrics may be nil.
func OIDCAuthMiddleware(cfg OIDCAuthConfig, logger *logging.Logger, metrics *observability.AdminMetrics) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	v, err := newBearerVerifier(cfg)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			auth, rejection := v.authenticate(ctx, r.Header.Get("Authorization"))
			if rejection != nil {
				if metrics != nil {
					metrics.RecordAuth(ctx, observability.AuthMethodOIDC, r.URL.Path, rejection.outcome)
				}
				if logger != nil {
					attrs := []any{
						slog.String("outcome", rejection.outcome),
						slog.String("endpoint", r.URL.Path),
						slog.String("remote_addr", r.RemoteAddr),
					}
					if rejection.err != nil {
						attrs = append(attrs, slog.String("error", rejection.err.Error()))
					}
					logging.FromContext(ctx).Warn("admin bearer token rejected", attrs...)
				}
				writeUnauthorized(w, rejection.message)
				return
			}

			if metrics != nil {
				metrics.RecordAuth(ctx, observability.AuthMethodOIDC, r.URL.Path, observability.AuthSuccess)
			}
			if logger != nil {
				logging.FromContext(ctx).Debug("admin bearer token accepted",
					slog.String("subject", auth.Subject),
					slog.String("endpoint", r.URL.Path),
				)
			}
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("auth.subject", auth.Subject),
					attribute.String("auth.issuer", auth.Issuer),
					attribute.StringSlice("auth.audience", auth.Audience),
				)
			}

			next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, auth)))
		})
	}, nil
}

func bearerToken(value string) string {
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func newOIDCHTTPClient(cfg OIDCAuthConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CAFile != "" {
		pemBytes, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read oidc ca file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("oidc ca file %s contains no certificates", cfg.CAFile)
		}
		transport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    pool,
		}
	}
	return &http.Client{Transport: transport, Timeout: 10 * time.Second}, nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	WriteJSONError(w, http.StatusUnauthorized, message)
}

func validateTimeClaims(claims map[string]interface{}, skew time.Duration) error {
	if skew < 0 {
		skew = 0
	}
	now := time.Now()
	if exp, ok := numericDate(claims["exp"]); ok && now.After(exp.Add(skew)) {
		return errTokenExpired
	}
	if nbf, ok := numericDate(claims["nbf"]); ok && now.Add(skew).Before(nbf) {
		return errTokenNotYetValid
	}
	return nil
}

func numericDate(value interface{}) (time.Time, bool) {
	var seconds int64
	switch v := value.(type) {
	case float64:
		seconds = int64(v)
	case int64:
		seconds = v
	case int:
		seconds = int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		seconds = parsed
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		seconds = parsed
	default:
		return time.Time{}, false
	}
	return time.Unix(seconds, 0), true
}

func extractAudience(claims map[string]interface{}) []string {
	switch val := claims["aud"].(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if str, ok := item.(string); ok {
				result = append(result, str)
			}
		}
		return result
	default:
		return nil
	}
}
