package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadOverlaysOnlyDefinedKeys(t *testing.T) {
	path := writeTempConfig(t, `
cbpp_keep_alive_timeout = 60000
system_http_port = 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KeepAliveTimeout != 60*time.Second {
		t.Fatalf("KeepAliveTimeout = %v, want 60s", cfg.KeepAliveTimeout)
	}
	if cfg.SystemHTTPPort != 9000 {
		t.Fatalf("SystemHTTPPort = %d, want 9000", cfg.SystemHTTPPort)
	}
	if cfg.SystemHTTPPath != "~/sys" {
		t.Fatalf("SystemHTTPPath = %q, want default ~/sys", cfg.SystemHTTPPath)
	}
}

func TestLoadOverlaysAuthUserPass(t *testing.T) {
	path := writeTempConfig(t, `system_http_auth_user_pass = "admin:secret"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SystemHTTPAuthUserPass != "admin:secret" {
		t.Fatalf("SystemHTTPAuthUserPass = %q, want admin:secret", cfg.SystemHTTPAuthUserPass)
	}
}

func TestLoadRejectsInconsistentTLS(t *testing.T) {
	path := writeTempConfig(t, `
session_security_mode = "production"
session_tls_enabled = true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for production mode without mutual TLS")
	}
}
