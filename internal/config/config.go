// Package config loads the TOML file that configures a CBPP server:
// keep-alive timing and the system HTTP control surface's bind address,
// path, and TLS material.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arcflux/cbppcore/internal/cbpp/transport"
)

// Config is the runtime configuration for one CBPP process.
type Config struct {
	KeepAliveTimeout time.Duration

	SystemHTTPBind         string
	SystemHTTPPort         int
	SystemHTTPPath         string
	SystemHTTPCertificate  string
	SystemHTTPPrivateKey   string
	SystemHTTPAuthUserPass string

	Session transport.Config
}

// Default returns cbpp_keep_alive_timeout of 30 seconds and
// system_http_path of "~/sys" along with the rest of its fallbacks.
func Default() Config {
	return Config{
		KeepAliveTimeout: 30 * time.Second,
		SystemHTTPBind:   "127.0.0.1",
		SystemHTTPPort:   8901,
		SystemHTTPPath:   "~/sys",
		Session:          transport.DefaultConfig(),
	}
}

// fileConfig mirrors config.toml key names.
type fileConfig struct {
	CbppKeepAliveTimeout int64  `toml:"cbpp_keep_alive_timeout"`
	SystemHTTPBind       string `toml:"system_http_bind"`
	SystemHTTPPort       int    `toml:"system_http_port"`
	SystemHTTPPath       string `toml:"system_http_path"`
	SystemHTTPCert       string `toml:"system_http_certificate"`
	SystemHTTPKey        string `toml:"system_http_private_key"`
	SystemHTTPAuth       string `toml:"system_http_auth_user_pass"`
	SecurityMode         string `toml:"session_security_mode"`
	TLSEnabled           bool   `toml:"session_tls_enabled"`
	TLSMutual            bool   `toml:"session_tls_mutual"`
	TLSCertFile          string `toml:"session_tls_cert_file"`
	TLSKeyFile           string `toml:"session_tls_key_file"`
	TLSCAFile            string `toml:"session_tls_ca_file"`
}

// Load reads path, overlaying only the keys present in the file onto
// Default().
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if meta.IsDefined("cbpp_keep_alive_timeout") {
		cfg.KeepAliveTimeout = time.Duration(raw.CbppKeepAliveTimeout) * time.Millisecond
	}
	if meta.IsDefined("system_http_bind") {
		cfg.SystemHTTPBind = strings.TrimSpace(raw.SystemHTTPBind)
	}
	if meta.IsDefined("system_http_port") {
		cfg.SystemHTTPPort = raw.SystemHTTPPort
	}
	if meta.IsDefined("system_http_path") {
		cfg.SystemHTTPPath = strings.TrimSpace(raw.SystemHTTPPath)
	}
	if meta.IsDefined("system_http_certificate") {
		cfg.SystemHTTPCertificate = strings.TrimSpace(raw.SystemHTTPCert)
	}
	if meta.IsDefined("system_http_private_key") {
		cfg.SystemHTTPPrivateKey = strings.TrimSpace(raw.SystemHTTPKey)
	}
	if meta.IsDefined("system_http_auth_user_pass") {
		cfg.SystemHTTPAuthUserPass = strings.TrimSpace(raw.SystemHTTPAuth)
	}
	if meta.IsDefined("session_security_mode") {
		cfg.Session.SecurityMode = transport.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.Session.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.Session.TLS.Mutual = raw.TLSMutual
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}

	if err := cfg.Session.ValidateServerTransport(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}
