package cbppsession

import (
	"net"
	"testing"
	"time"

	"github.com/arcflux/cbppcore/internal/cbpp"
	"github.com/arcflux/cbppcore/internal/job"
)

type echoHandler struct {
	received chan []byte
}

func (h *echoHandler) OnRequest(ctx *job.Context, messageID uint16, payload []byte) error {
	h.received <- append([]byte(nil), payload...)
	return nil
}

func TestSessionDispatchesRequest(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := &echoHandler{received: make(chan []byte, 1)}
	pool := job.NewPool(4)
	s := New(server, h, pool, DefaultConfig())
	go func() { _ = s.Serve() }()

	wire := cbpp.PutDataMessage(nil, 1, []byte("ping"))
	go client.Write(wire)

	select {
	case got := <-h.received:
		if string(got) != "ping" {
			t.Fatalf("got %q, want ping", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for dispatch")
	}
}

type failingHandler struct{}

func (failingHandler) OnRequest(ctx *job.Context, messageID uint16, payload []byte) error {
	return &ProtocolError{Code: cbpp.StatusBadMessage, Reason: "bad"}
}

func TestSessionSendsErrorAndShutsDownOnHandlerFailure(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	pool := job.NewPool(4)
	s := New(server, failingHandler{}, pool, DefaultConfig())
	go func() { _ = s.Serve() }()

	wire := cbpp.PutDataMessage(nil, 1, []byte("x"))
	go client.Write(wire)

	buf := make([]byte, 256)
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected an error reply")
	}
}

func TestSessionSendsErrorReplyOnReaderProtocolError(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := &echoHandler{received: make(chan []byte, 1)}
	pool := job.NewPool(4)
	cfg := DefaultConfig()
	cfg.Limits.MaxPayloadBytes = 8
	s := New(server, h, pool, cfg)
	go func() { _ = s.Serve() }()

	// a payload over the configured limit trips a reader-level
	// structural error (ErrPayloadTooLarge) rather than reaching the
	// handler at all.
	wire := cbpp.PutDataMessage(nil, 1, make([]byte, 64))
	go client.Write(wire)

	buf := make([]byte, 256)
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected a CtlError reply before the connection was closed")
	}
}
