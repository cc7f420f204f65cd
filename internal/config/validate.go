package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Server.validate(result)
	c.Describe.validate(result)
	c.Cache.validate(result)
	c.Observability.validate(result)
	return result
}

func (d *DescribeConfig) validate(result *ValidationResult) {
	switch d.Source {
	case SourceREST:
		d.REST.validate(result)
	case SourceSQL:
		d.SQL.validate(result)
	case SourceFile:
		if strings.TrimSpace(d.File.Path) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "describe.file.path",
				Message: "fixture path is required when describe.source is 'file'",
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.source",
			Message: fmt.Sprintf("invalid describe source %q", d.Source),
			Hint:    "valid values are: rest, sql, file",
		})
	}
}

func (r *RESTSourceConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(r.InstanceURL) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.rest.instance_url",
			Message: "instance URL is required when describe.source is 'rest'",
		})
	} else if parsed, err := url.Parse(r.InstanceURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.rest.instance_url",
			Message: fmt.Sprintf("invalid instance URL %q", r.InstanceURL),
			Hint:    "use a full URL such as https://example.my.salesforce.com",
		})
	} else if parsed.Scheme == "http" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "describe.rest.instance_url",
			Message: "instance URL uses plain http",
			Hint:    "bearer tokens are sent in clear text; use https outside local testing",
		})
	}

	if r.ClientID != "" {
		if r.TokenURL == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "describe.rest.token_url",
				Message: "token URL is required for client-credentials auth",
			})
		}
		if r.AccessToken != "" {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "describe.rest.access_token",
				Message: "access_token is ignored when client_id is set",
			})
		}
	} else if r.AccessToken == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.rest.access_token",
			Message: "an access token or client credentials are required",
			Hint:    "set describe.rest.access_token(_file) or describe.rest.client_id/client_secret/token_url",
		})
	}

	if r.Timeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.rest.timeout",
			Message: "timeout cannot be negative",
		})
	}
}

func (s *SQLSourceConfig) validate(result *ValidationResult) {
	if s.ConnectionString == "" && (s.Port < 1 || s.Port > 65535) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.sql.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}
	if _, err := s.DatabaseName(); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.sql.database",
			Message: err.Error(),
			Hint:    "set describe.sql.database or include a /database in describe.sql.dsn",
		})
	}

	s.TLS.validate(result)

	if s.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.sql.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}
	if s.ConnectionTimeout > 0 && s.ConnectionRetryInterval <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.sql.connection_retry_interval",
			Message: "connection_retry_interval must be positive when connection_timeout is set",
		})
	}

	if s.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.sql.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if s.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.sql.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if s.Pool.MaxIdle > s.Pool.MaxOpen && s.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "describe.sql.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.sql.tls.mode",
			Message: fmt.Sprintf("invalid TLS mode %q", t.Mode),
			Hint:    "valid values are: off, skip-verify, verify-ca, verify-full",
		})
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.sql.tls.ca_file",
			Message: "CA file is required for verify-ca and verify-full modes",
		})
	}
	if (t.CertFile != "") != (t.KeyFile != "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "describe.sql.tls.cert_file",
			Message: "both cert_file and key_file must be specified for client certificate authentication",
			Hint:    "provide both cert_file and key_file, or neither",
		})
	}
	if t.Mode == "skip-verify" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "describe.sql.tls.mode",
			Message: "skip-verify mode does not verify server certificates",
			Hint:    "use verify-ca or verify-full in production",
		})
	}
}

func (c *CacheConfig) validate(result *ValidationResult) {
	switch c.Store {
	case StoreNone, StoreMemory:
	case StoreRedis:
		if _, _, err := net.SplitHostPort(c.Redis.Addr); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "cache.redis.addr",
				Message: fmt.Sprintf("invalid redis address %q", c.Redis.Addr),
				Hint:    "use host:port",
			})
		}
		if c.Redis.DB < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "cache.redis.db",
				Message: "db cannot be negative",
			})
		}
		if strings.TrimSpace(c.Prefix) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "cache.prefix",
				Message: "prefix is required for the redis store",
				Hint:    "a refresh flushes every key under the prefix; use a dedicated value such as soqlrestore:describe:",
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "cache.store",
			Message: fmt.Sprintf("invalid cache store %q", c.Store),
			Hint:    "valid values are: none, memory, redis",
		})
	}
	if c.TTL < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "cache.ttl",
			Message: "ttl cannot be negative",
		})
	}
	if c.Store == StoreMemory && c.TTL == 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "cache.ttl",
			Message: "describes are kept until the process exits or an admin refresh",
			Hint:    "set cache.ttl or enable server.admin.refresh_enabled",
		})
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}
	if s.MaxBodyBytes <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.max_body_bytes",
			Message: "max_body_bytes must be greater than 0",
		})
	}

	// Rate limit validation
	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit_rps",
				Message: "rate_limit_rps must be greater than 0 when rate limiting is enabled",
			})
		}
		if s.RateLimitBurst <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit_burst",
				Message: "rate_limit_burst must be greater than 0 when rate limiting is enabled",
			})
		}
	}
	if !s.RateLimitEnabled && (s.RateLimitRPS > 0 || s.RateLimitBurst > 0) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.rate_limit_enabled",
			Message: "rate limit values are set but rate limiting is disabled",
			Hint:    "enable server.rate_limit_enabled to apply rate limits",
		})
	}

	// CORS validation
	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "CORS enabled but no allowed origins configured",
				Hint:    "set cors_allowed_origins or disable CORS",
			})
		}

		hasWildcard := false
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				hasWildcard = true
				break
			}
		}
		if hasWildcard && s.CORSAllowCredentials {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "wildcard origin (*) cannot be used with credentials",
				Hint:    "use specific origins with credentials, or wildcard without credentials",
			})
		}
		if hasWildcard {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "server.cors_allowed_origins",
				Message: "CORS wildcard origin enabled",
				Hint:    "use specific origins in production for better security",
			})
		}
	}

	if s.Admin.RefreshEnabled && !s.Auth.OIDCEnabled && s.Admin.AuthToken == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.admin.auth_token",
			Message: "admin refresh endpoint requires OIDC or an admin auth token",
			Hint:    "set server.auth.oidc_enabled=true or server.admin.auth_token(_file)",
		})
	}

	if s.Auth.OIDCEnabled {
		if s.Auth.OIDCIssuerURL == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.auth.oidc_issuer_url",
				Message: "issuer URL is required when OIDC is enabled",
			})
		}
		if s.Auth.OIDCAudience == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.auth.oidc_audience",
				Message: "audience is required when OIDC is enabled",
			})
		}
	}

	// TLS validation
	validTLSModes := map[string]bool{"": true, "off": true, "file": true}
	if !validTLSModes[s.TLSMode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.tls_mode",
			Message: fmt.Sprintf("invalid TLS mode %q", s.TLSMode),
			Hint:    "valid values are: off, file",
		})
	}
	if s.TLSMode == "file" {
		if s.TLSCertFile == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.tls_cert_file",
				Message: "TLS cert file required when tls_mode is 'file'",
			})
		}
		if s.TLSKeyFile == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.tls_key_file",
				Message: "TLS key file required when tls_mode is 'file'",
			})
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	// Log level validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	// Log format validation
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.trace_sample_ratio",
			Message: fmt.Sprintf("trace_sample_ratio %v is out of range (0.0-1.0)", o.TraceSampleRatio),
		})
	}

	// OTLP protocol validation
	o.OTLP.validate("observability.otlp", result)

	// Signal-specific OTLP validation
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
	if o.Metrics != nil {
		o.Metrics.validate("observability.metrics", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   prefix + ".endpoint",
				Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				Hint:    "use host:port or a full URL",
			})
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	if o.RetryMaxAttempts < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".retry_max_attempts",
			Message: "retry_max_attempts cannot be negative",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
