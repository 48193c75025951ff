package api

import (
	"crypto/tls"
	"fmt"
	"os"
)

// TLSConfig holds the certificate and key paths for HTTPS.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// TLSFromEnv reads RULECHAIN_TLS_CERT and RULECHAIN_TLS_KEY. It returns nil
// unless both are set.
func TLSFromEnv() *TLSConfig {
	cert := os.Getenv("RULECHAIN_TLS_CERT")
	key := os.Getenv("RULECHAIN_TLS_KEY")
	if cert == "" || key == "" {
		return nil
	}
	return &TLSConfig{CertFile: cert, KeyFile: key}
}

// Load reads the key pair. TLS 1.2 is the minimum version.
func (c *TLSConfig) Load() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
