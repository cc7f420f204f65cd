package serverapp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"

	"soqlrestore/internal/logging"
)

// serverTLSConfig checks the configured key pair and returns a config that
// re-reads it on every handshake, so rotated certificates apply without a
// restart.
func serverTLSConfig(certFile, keyFile string, logger *logging.Logger) (*tls.Config, error) {
	if err := checkReadableFile(certFile); err != nil {
		return nil, fmt.Errorf("invalid certificate file: %w", err)
	}
	if err := checkReadableFile(keyFile); err != nil {
		return nil, fmt.Errorf("invalid key file: %w", err)
	}
	if err := checkKeyFileMode(keyFile); err != nil {
		return nil, err
	}
	if _, err := tls.LoadX509KeyPair(certFile, keyFile); err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := tls.LoadX509KeyPair(certFile, keyFile)
			if err != nil {
				logger.Error("failed to reload certificate",
					slog.String("cert_file", certFile),
					slog.String("error", err.Error()))
				return nil, err
			}
			return &cert, nil
		},
	}, nil
}

func checkReadableFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not accessible: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

// checkKeyFileMode rejects keys readable by group or others.
func checkKeyFileMode(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("key file %s has insecure permissions %o (use 0600 or 0400)", path, mode)
	}
	return nil
}
