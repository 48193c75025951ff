package api

import (
	"crypto/tls"
	"testing"
)

func TestTLSFromEnv(t *testing.T) {
	tests := []struct {
		name string
		cert string
		key  string
		want bool
	}{
		{"neither", "", "", false},
		{"only cert", "/path/to/cert.pem", "", false},
		{"only key", "", "/path/to/key.pem", false},
		{"both", "/path/to/cert.pem", "/path/to/key.pem", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RULECHAIN_TLS_CERT", tt.cert)
			t.Setenv("RULECHAIN_TLS_KEY", tt.key)

			cfg := TLSFromEnv()
			if (cfg != nil) != tt.want {
				t.Fatalf("TLSFromEnv() = %v, want enabled=%v", cfg, tt.want)
			}
			if cfg == nil {
				return
			}
			if cfg.CertFile != tt.cert {
				t.Errorf("CertFile = %q, want %q", cfg.CertFile, tt.cert)
			}
			if cfg.KeyFile != tt.key {
				t.Errorf("KeyFile = %q, want %q", cfg.KeyFile, tt.key)
			}
		})
	}
}

func TestTLSLoadInvalidFiles(t *testing.T) {
	cfg := &TLSConfig{
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	}

	tlsCfg, err := cfg.Load()
	if err == nil {
		t.Fatal("expected error for missing certificate files")
	}
	if tlsCfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestTLSLoadSetsMinVersion(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir)

	tlsCfg, err := (&TLSConfig{CertFile: certFile, KeyFile: keyFile}).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if tlsCfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want %x", tlsCfg.MinVersion, tls.VersionTLS12)
	}
	if len(tlsCfg.Certificates) != 1 {
		t.Errorf("expected 1 certificate, got %d", len(tlsCfg.Certificates))
	}
}
