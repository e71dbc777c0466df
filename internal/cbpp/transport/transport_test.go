package transport

import (
	"crypto/tls"
	"io"
	"net"
	"testing"

	"github.com/arcflux/cbppcore/internal/testutil/tlstest"
)

func TestMutualTLSHandshakeSucceedsWithIssuedCerts(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-ca")
	serverCert, serverKey := ca.IssueServerCert(t, dir, "localhost", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	clientCert, clientKey := ca.IssueClientCert(t, dir, "test-client")

	serverCfg := DefaultConfig()
	serverCfg.SecurityMode = SecurityModeProduction
	serverCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: serverCert, KeyFile: serverKey, CAFile: ca.CAFile()}
	if err := serverCfg.ValidateServerTransport(); err != nil {
		t.Fatalf("ValidateServerTransport: %v", err)
	}
	serverTLS, err := serverCfg.ServerTLSConfig()
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}

	clientCfg := DefaultConfig()
	clientCfg.SecurityMode = SecurityModeProduction
	clientCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: clientCert, KeyFile: clientKey, CAFile: ca.CAFile()}
	if err := clientCfg.ValidateClientTransport(); err != nil {
		t.Fatalf("ValidateClientTransport: %v", err)
	}
	clientTLS, err := clientCfg.ClientTLSConfig()
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	clientTLS.ServerName = "localhost"

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	if err != nil {
		t.Fatalf("tls.Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- err
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		_, err = io.ReadFull(conn, buf)
		accepted <- err
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientTLS)
	if err != nil {
		t.Fatalf("tls.Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := <-accepted; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestValidateServerTransportProductionRequiresMutualTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	cfg.TLS.Enabled = true
	cfg.TLS.CertFile = "cert.pem"
	cfg.TLS.KeyFile = "key.pem"

	if err := cfg.ValidateServerTransport(); err != ErrMTLSRequired {
		t.Fatalf("err = %v, want ErrMTLSRequired", err)
	}
}

func TestValidateServerTransportDevelopmentAllowsPlaintext(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateServerTransport(); err != nil {
		t.Fatalf("unexpected err = %v", err)
	}
}

func TestValidateClientTransportRejectsInsecureSkipInProduction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	cfg.TLS.CertFile = "cert.pem"
	cfg.TLS.KeyFile = "key.pem"
	cfg.TLS.InsecureSkipVerify = true

	if err := cfg.ValidateClientTransport(); err != ErrInsecureSkipNotAllowed {
		t.Fatalf("err = %v, want ErrInsecureSkipNotAllowed", err)
	}
}

func TestNextDelayGrowsWithAttemptsAndCapsAtMax(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100, Multiplier: 2.0, MaxDelay: 1000, Jitter: false}
	first := NextDelay(cfg, 1, nil)
	if first != cfg.InitialDelay {
		t.Fatalf("attempt 1 = %v, want %v", first, cfg.InitialDelay)
	}
	second := NextDelay(cfg, 2, nil)
	if second <= first {
		t.Fatalf("attempt 2 = %v, want more than attempt 1 = %v", second, first)
	}
	fifth := NextDelay(cfg, 5, nil)
	if fifth > cfg.MaxDelay {
		t.Fatalf("attempt 5 = %v exceeds max %v", fifth, cfg.MaxDelay)
	}
}
