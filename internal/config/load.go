package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable override, e.g.
// SOQLR_DESCRIBE_SOURCE or SOQLR_CACHE_REDIS_ADDR.
const EnvPrefix = "SOQLR"

var defineFlagsOnce sync.Once

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) – secrets read from files or the password prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlagsOnce.Do(func() {
		DefineFlags(pflag.CommandLine)
	})
	if !pflag.Parsed() {
		pflag.Parse()
	}
	return LoadFlags(pflag.CommandLine)
}

// LoadFlags loads configuration using an already parsed flag set defined by
// DefineFlags.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Defaults (lowest priority)
	setDefaults(v)

	// --- Config file ---
	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("soqlrestore")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/soqlrestore/")
		v.AddConfigPath("$HOME/.soqlrestore")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// --- Environment variables ---
	// Canonical keys: dot + snake_case
	// Env vars: SOQLR_DESCRIBE_SQL_POOL_MAX_OPEN
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// --- Flags binding (highest normal priority) ---
	bindChangedFlagsToViper(fs, v)
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	if err := loadSecrets(v); err != nil {
		return nil, err
	}

	// --- Unmarshal (strict) ---
	return unmarshal(v)
}

// secretFile names a setting that can be read from a file when it is not set
// directly.
type secretFile struct {
	key      string
	fileKey  string
	label    string
	nonEmpty bool
}

var secretFiles = []secretFile{
	{key: "describe.sql.dsn", fileKey: "describe.sql.dsn_file", label: "describe SQL DSN"},
	{key: "describe.sql.password", fileKey: "describe.sql.password_file", label: "describe SQL password"},
	{key: "describe.rest.access_token", fileKey: "describe.rest.access_token_file", label: "describe REST access token", nonEmpty: true},
	{key: "server.admin.auth_token", fileKey: "server.admin.auth_token_file", label: "admin auth token", nonEmpty: true},
}

func loadSecrets(v *viper.Viper) error {
	for _, secret := range secretFiles {
		if v.GetString(secret.key) != "" {
			continue
		}
		path := strings.TrimSpace(v.GetString(secret.fileKey))
		if path == "" {
			continue
		}
		value, err := readSecretFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s file: %w", secret.label, err)
		}
		if secret.nonEmpty && value == "" {
			return fmt.Errorf("%s file %q is empty", secret.label, path)
		}
		v.Set(secret.key, value)
	}

	if v.GetString("describe.source") == SourceSQL &&
		v.GetString("describe.sql.dsn") == "" &&
		v.GetString("describe.sql.password") == "" &&
		v.GetBool("describe.sql.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("describe.sql.password", pwd)
	}
	return nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "int64":
			val, _ := fs.GetInt64(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags defines all command line flags on fs using canonical snake_case keys.
func DefineFlags(fs *pflag.FlagSet) {
	// Describe source flags
	fs.String("describe.source", "", "Describe source (rest, sql, file)")
	fs.String("describe.rest.instance_url", "", "Platform instance URL (https://example.my.salesforce.com)")
	fs.String("describe.rest.api_version", "", "REST API version (default 59.0)")
	fs.String("describe.rest.access_token", "", "Static bearer token for the REST API")
	fs.String("describe.rest.access_token_file", "", "Path to file containing the REST access token (use @- for stdin)")
	fs.String("describe.rest.client_id", "", "OAuth client ID for client-credentials auth")
	fs.String("describe.rest.client_secret", "", "OAuth client secret for client-credentials auth")
	fs.String("describe.rest.token_url", "", "OAuth token URL for client-credentials auth")
	fs.Duration("describe.rest.timeout", 0, "Per-call REST timeout")

	fs.String("describe.sql.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
	fs.String("describe.sql.dsn_file", "", "Path to file containing the DSN (use @- for stdin)")
	fs.String("describe.sql.host", "", "Database host")
	fs.Int("describe.sql.port", 0, "Database port")
	fs.String("describe.sql.user", "", "Database user")
	fs.String("describe.sql.password", "", "Database password")
	fs.String("describe.sql.password_file", "", "Path to file containing the database password (use @- for stdin)")
	fs.Bool("describe.sql.password_prompt", false, "Prompt for the database password securely")
	fs.String("describe.sql.database", "", "Database whose tables are described")
	fs.String("describe.sql.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("describe.sql.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("describe.sql.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("describe.sql.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("describe.sql.tls.server_name", "", "Override TLS server name for verification")
	fs.Duration("describe.sql.connection_timeout", 0, "How long to retry the initial database connection")
	fs.Duration("describe.sql.connection_retry_interval", 0, "Initial delay between connection attempts")
	fs.Int("describe.sql.pool.max_open", 0, "Maximum open database connections")
	fs.Int("describe.sql.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("describe.sql.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")

	fs.String("describe.file.path", "", "Path to a YAML describe fixture")

	// Cache flags
	fs.String("cache.store", "", "Process-wide describe store (none, memory, redis)")
	fs.Duration("cache.ttl", 0, "Describe store TTL (0 = no expiry)")
	fs.String("cache.prefix", "", "Describe store key prefix")
	fs.String("cache.redis.addr", "", "Redis address (host:port)")
	fs.String("cache.redis.password", "", "Redis password")
	fs.Int("cache.redis.db", 0, "Redis database number")

	// Server flags
	fs.Int("server.port", 0, "HTTP server port")
	fs.Int64("server.max_body_bytes", 0, "Maximum restore request body size in bytes")
	fs.Bool("server.auth.oidc_enabled", false, "Protect admin endpoints with OIDC bearer tokens")
	fs.String("server.auth.oidc_issuer_url", "", "OIDC issuer URL (for discovery and JWKS)")
	fs.String("server.auth.oidc_audience", "", "Expected JWT audience (client ID)")
	fs.Duration("server.auth.oidc_clock_skew", 0, "Allowed JWT clock skew (e.g. 2m)")
	fs.String("server.auth.oidc_ca_file", "", "PEM CA bundle trusted for the OIDC issuer")
	fs.Bool("server.admin.refresh_enabled", false, "Enable /admin/describe/refresh endpoint")
	fs.String("server.admin.auth_token", "", "Shared secret required in X-Admin-Token header when admin endpoint is enabled without OIDC")
	fs.String("server.admin.auth_token_file", "", "Path to file containing admin auth token (use @- for stdin)")
	fs.Bool("server.rate_limit_enabled", false, "Enable global rate limiting for all HTTP endpoints")
	fs.Float64("server.rate_limit_rps", 0, "Global rate limit requests per second")
	fs.Int("server.rate_limit_burst", 0, "Global rate limit burst size")
	fs.Bool("server.cors_enabled", false, "Enable CORS (Cross-Origin Resource Sharing)")
	fs.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_methods", nil, "Allowed CORS methods (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_headers", nil, "Allowed CORS headers (comma-separated or repeated)")
	fs.StringSlice("server.cors_expose_headers", nil, "CORS headers to expose to browser (comma-separated or repeated)")
	fs.Bool("server.cors_allow_credentials", false, "Allow credentials in CORS requests")
	fs.Int("server.cors_max_age", 0, "CORS preflight cache duration (seconds)")
	fs.Duration("server.read_timeout", 0, "HTTP server read timeout")
	fs.Duration("server.write_timeout", 0, "HTTP server write timeout")
	fs.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
	fs.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
	fs.Duration("server.health_check_timeout", 0, "Health check timeout")
	fs.String("server.tls_mode", "", "TLS mode: off, file (default: off)")
	fs.String("server.tls_cert_file", "", "Path to TLS certificate file (for file mode)")
	fs.String("server.tls_key_file", "", "Path to TLS private key file (for file mode)")

	// Observability flags
	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")

	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	fs.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")

	fs.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
	fs.String("observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)")
	fs.Bool("observability.traces.insecure", false, "Use insecure connection for traces")
	fs.Duration("observability.traces.timeout", 0, "Timeout for trace exports")
	fs.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
	fs.String("observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)")
	fs.Bool("observability.logs.insecure", false, "Use insecure connection for logs")
	fs.Duration("observability.logs.timeout", 0, "Timeout for log exports")
	fs.String("observability.metrics.endpoint", "", "OTLP endpoint for metrics only")
	fs.Bool("observability.metrics.insecure", false, "Use insecure connection for metrics")
	fs.Duration("observability.metrics.timeout", 0, "Timeout for metric exports")

	fs.StringP("config", "c", "", "Config file path")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	// Describe defaults
	v.SetDefault("describe.source", SourceREST)
	v.SetDefault("describe.rest.instance_url", "")
	v.SetDefault("describe.rest.api_version", "59.0")
	v.SetDefault("describe.rest.access_token", "")
	v.SetDefault("describe.rest.access_token_file", "")
	v.SetDefault("describe.rest.client_id", "")
	v.SetDefault("describe.rest.client_secret", "")
	v.SetDefault("describe.rest.token_url", "")
	v.SetDefault("describe.rest.timeout", 30*time.Second)

	v.SetDefault("describe.sql.dsn", "")
	v.SetDefault("describe.sql.dsn_file", "")
	v.SetDefault("describe.sql.host", "localhost")
	v.SetDefault("describe.sql.port", 4000)
	v.SetDefault("describe.sql.user", "root")
	v.SetDefault("describe.sql.password", "")
	v.SetDefault("describe.sql.password_file", "")
	v.SetDefault("describe.sql.password_prompt", false)
	v.SetDefault("describe.sql.database", "")
	v.SetDefault("describe.sql.tls.mode", "")
	v.SetDefault("describe.sql.tls.ca_file", "")
	v.SetDefault("describe.sql.tls.cert_file", "")
	v.SetDefault("describe.sql.tls.key_file", "")
	v.SetDefault("describe.sql.tls.server_name", "")
	v.SetDefault("describe.sql.connection_timeout", 60*time.Second)
	v.SetDefault("describe.sql.connection_retry_interval", 2*time.Second)
	v.SetDefault("describe.sql.pool.max_open", 10)
	v.SetDefault("describe.sql.pool.max_idle", 2)
	v.SetDefault("describe.sql.pool.max_lifetime", 5*time.Minute)

	v.SetDefault("describe.file.path", "")

	// Cache defaults
	v.SetDefault("cache.store", StoreMemory)
	v.SetDefault("cache.ttl", 15*time.Minute)
	v.SetDefault("cache.prefix", "soqlrestore:describe:")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", int64(1<<20))
	v.SetDefault("server.auth.oidc_enabled", false)
	v.SetDefault("server.auth.oidc_issuer_url", "")
	v.SetDefault("server.auth.oidc_audience", "")
	v.SetDefault("server.auth.oidc_clock_skew", 2*time.Minute)
	v.SetDefault("server.auth.oidc_ca_file", "")
	v.SetDefault("server.admin.refresh_enabled", false)
	v.SetDefault("server.admin.auth_token", "")
	v.SetDefault("server.admin.auth_token_file", "")
	v.SetDefault("server.rate_limit_enabled", false)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 0)
	v.SetDefault("server.cors_enabled", false)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("server.cors_expose_headers", []string{})
	v.SetDefault("server.cors_allow_credentials", false)
	v.SetDefault("server.cors_max_age", 86400)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)
	v.SetDefault("server.tls_mode", "off")
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	// Observability defaults
	v.SetDefault("observability.service_name", "soqlrestore")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)

	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for _, secret := range secretFiles {
		if strings.TrimSpace(v.GetString(secret.fileKey)) == "@-" {
			configured = append(configured, secret.fileKey)
		}
	}

	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
