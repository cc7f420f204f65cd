package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "soqlrestore-describe"

// DSN returns a MySQL-compatible data source name. ConnectionString is used
// as given when set; otherwise the DSN is built from the discrete fields.
func (s *SQLSourceConfig) DSN() string {
	var dsn string
	if s.ConnectionString != "" {
		dsn = s.ConnectionString
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
	} else {
		cfg := mysql.NewConfig()
		cfg.User = s.User
		cfg.Passwd = s.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", s.Host, s.Port)
		cfg.DBName = s.Database
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	}

	if tlsParam := s.effectiveTLSParam(); tlsParam != "" && !strings.Contains(dsn, "tls=") {
		dsn += "&tls=" + tlsParam
	}
	return dsn
}

// DatabaseName returns the schema whose tables are described: Database when
// set, else the database named in the DSN.
func (s *SQLSourceConfig) DatabaseName() (string, error) {
	if name := strings.TrimSpace(s.Database); name != "" {
		return name, nil
	}
	if s.ConnectionString == "" {
		return "", fmt.Errorf("describe.sql.database is required")
	}
	parsed, err := mysql.ParseDSN(s.ConnectionString)
	if err != nil {
		return "", fmt.Errorf("parse describe.sql.dsn: %w", err)
	}
	if parsed.DBName == "" {
		return "", fmt.Errorf("describe.sql.dsn does not name a database")
	}
	return parsed.DBName, nil
}

// effectiveTLSParam returns the tls DSN parameter for the configured mode,
// or "" when no TLS mode is set.
func (s *SQLSourceConfig) effectiveTLSParam() string {
	switch s.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return s.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening the connection in verify-ca or verify-full
// mode; it does nothing otherwise.
func (s *SQLSourceConfig) RegisterTLS() error {
	if s.TLS.Mode != "verify-ca" && s.TLS.Mode != "verify-full" {
		return nil
	}
	tlsCfg, err := s.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (s *SQLSourceConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if s.TLS.CAFile != "" {
		caCert, err := os.ReadFile(s.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", s.TLS.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", s.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	switch {
	case s.TLS.CertFile != "" && s.TLS.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(s.TLS.CertFile, s.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case s.TLS.CertFile != "" || s.TLS.KeyFile != "":
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if s.TLS.Mode == "verify-full" && s.TLS.ServerName != "" {
		tlsCfg.ServerName = s.TLS.ServerName
	}
	return tlsCfg, nil
}
