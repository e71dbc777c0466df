// Package cbppsession implements the server side of a CBPP connection: a
// Session reads frames off a net.Conn, dispatches each into the job
// system under a per-connection category, and writes replies back.
package cbppsession

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcflux/cbppcore/internal/cbpp"
	"github.com/arcflux/cbppcore/internal/job"
	"github.com/arcflux/cbppcore/internal/observability"
	"github.com/arcflux/cbppcore/internal/obslog"
)

// Handler is the application callback invoked for each dispatched data
// message. Returning job.ErrTryAgainLater retries the same message in
// place; any other non-nil error is reported to the peer as a protocol
// error and the connection is torn down.
type Handler interface {
	OnRequest(ctx *job.Context, messageID uint16, payload []byte) error
}

// Config tunes keep-alive and size limits for a Session.
type Config struct {
	KeepAliveTimeout time.Duration
	Limits           cbpp.Limits
}

// DefaultConfig matches the reference 30-second idle timeout.
func DefaultConfig() Config {
	return Config{
		KeepAliveTimeout: 30 * time.Second,
		Limits:           cbpp.DefaultLimits(),
	}
}

// Session owns one accepted connection.
type Session struct {
	conn    net.Conn
	handler Handler
	cfg     Config
	log     zerolog.Logger

	pool  *job.Pool
	queue *job.Queue

	reader *cbpp.Reader

	writeMu sync.Mutex

	msgID   uint16
	payload bytes.Buffer

	closed        atomic.Bool
	shutdownGuard atomic.Int32

	timerMu sync.Mutex
	timer   *time.Timer
}

var ErrUnknownControlCode = errors.New("cbppsession: unknown control code")

// New wraps conn in a Session dispatching to handler through pool.
func New(conn net.Conn, handler Handler, pool *job.Pool, cfg Config) *Session {
	s := &Session{
		conn:    conn,
		handler: handler,
		cfg:     cfg,
		log:     obslog.With("cbppsession"),
		pool:    pool,
	}
	s.queue = job.NewQueue(pool, s.alive, s.onFatal)
	s.queue.SetRunObserver(observability.RecordJobRun)
	s.reader = cbpp.NewReader(s, cfg.Limits)
	s.resetTimeout()
	return s
}

// alive backs the queue's category liveness check: once the connection
// is closed, pending jobs for this session are dropped rather than run.
func (s *Session) alive() bool { return !s.closed.Load() }

func (s *Session) onFatal(err error) {
	s.log.Info().Err(err).Msg("session job raised a fatal error, forcing shutdown")
	s.ForceShutdown()
}

// Serve reads from conn until it errors or the session is shut down.
func (s *Session) Serve() error {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if perr := s.reader.PutEncodedData(buf[:n]); perr != nil {
				s.log.Info().Err(perr).Msg("protocol error decoding incoming data")
				s.reportProtocolError(perr)
				return perr
			}
		}
		if err != nil {
			s.closed.Store(true)
			return err
		}
	}
}

// reportProtocolError enqueues a job that sends a CtlError reply for a
// reader-level structural error and only then forces the connection
// closed, so the peer has a chance to read the reply before the socket
// goes away. Enqueued while the session is still alive: ForceShutdown
// must not run ahead of this or the queue's liveness check would drop
// the job unrun.
func (s *Session) reportProtocolError(perr error) {
	statusCode := protocolErrorStatus(perr)
	reason := perr.Error()
	s.queue.Enqueue(func(_ *job.Context) error {
		s.sendError(0, statusCode, reason)
		s.ForceShutdown()
		return nil
	})
}

func protocolErrorStatus(err error) cbpp.StatusCode {
	switch {
	case errors.Is(err, cbpp.ErrPayloadTooLarge),
		errors.Is(err, cbpp.ErrControlTooLarge),
		errors.Is(err, cbpp.ErrStringTooLarge):
		return cbpp.StatusPayloadTooLarge
	default:
		return cbpp.StatusBadMessage
	}
}

// OnDataMessageHeader implements cbpp.Callbacks.
func (s *Session) OnDataMessageHeader(messageID uint16, payloadLen uint64) error {
	s.msgID = messageID
	s.payload.Reset()
	s.payload.Grow(int(payloadLen))
	return nil
}

// OnDataMessagePayload implements cbpp.Callbacks.
func (s *Session) OnDataMessagePayload(chunk []byte) error {
	s.payload.Write(chunk)
	return nil
}

// OnDataMessageEnd implements cbpp.Callbacks.
func (s *Session) OnDataMessageEnd() error {
	messageID := s.msgID
	payload := append([]byte(nil), s.payload.Bytes()...)
	s.queue.Enqueue(func(ctx *job.Context) error {
		return s.runRequest(ctx, messageID, payload)
	})
	return nil
}

func (s *Session) runRequest(ctx *job.Context, messageID uint16, payload []byte) error {
	s.log.Debug().Uint16("message_id", messageID).Int("payload_len", len(payload)).Msg("dispatching message")

	err := s.handler.OnRequest(ctx, messageID, payload)
	if err == nil {
		s.resetTimeout()
		return nil
	}
	if errors.Is(err, job.ErrTryAgainLater) {
		return err
	}

	statusCode := cbpp.StatusInternalError
	var pe *ProtocolError
	if errors.As(err, &pe) {
		statusCode = pe.Code
	}
	s.log.Info().Uint16("message_id", messageID).Int64("status_code", int64(statusCode)).Err(err).Msg("request failed")
	s.sendError(messageID, statusCode, err.Error())
	s.ForceShutdown()
	return nil
}

// OnControlMessage implements cbpp.Callbacks.
func (s *Session) OnControlMessage(msg cbpp.ControlMessage) error {
	s.queue.Enqueue(func(ctx *job.Context) error {
		return s.runControl(ctx, msg)
	})
	return nil
}

func (s *Session) runControl(_ *job.Context, msg cbpp.ControlMessage) error {
	s.log.Debug().Int64("control_code", int64(msg.Code)).Int64("vint_param", msg.VintParam).Str("str_param", msg.StringParam).Msg("dispatching control message")

	switch msg.Code {
	case cbpp.CtlHeartbeat:
		s.log.Trace().Msg("heartbeat received")
	default:
		s.log.Info().Int64("control_code", int64(msg.Code)).Msg("unknown control code")
		s.echoControl(msg)
		s.ForceShutdown()
		return ErrUnknownControlCode
	}
	s.resetTimeout()
	return nil
}

func (s *Session) echoControl(msg cbpp.ControlMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	buf := cbpp.PutControlMessage(nil, msg.Code, msg.VintParam, msg.StringParam)
	_, _ = s.conn.Write(buf)
}

// sendError reports a protocol failure back to the peer. The guard
// count delays ForceShutdown's close until the write has gone out.
func (s *Session) sendError(originMessageID uint16, statusCode cbpp.StatusCode, reason string) {
	s.shutdownGuard.Add(1)
	defer s.shutdownGuard.Add(-1)

	s.writeMu.Lock()
	buf := cbpp.PutControlMessage(nil, cbpp.CtlError, int64(statusCode), reason)
	_, err := s.conn.Write(buf)
	s.writeMu.Unlock()

	if err != nil {
		s.log.Info().Err(err).Msg("failed to write error reply")
	}
}

// Send writes one data message to the peer.
func (s *Session) Send(messageID uint16, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	buf := cbpp.PutDataMessage(nil, messageID, payload)
	_, err := s.conn.Write(buf)
	return err
}

// ForceShutdown tears down the connection once any pending delayed
// shutdown guard has cleared.
func (s *Session) ForceShutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for s.shutdownGuard.Load() > 0 {
			time.Sleep(time.Millisecond)
		}
		_ = s.conn.Close()
	}()
}

func (s *Session) resetTimeout() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer == nil {
		s.timer = time.AfterFunc(s.cfg.KeepAliveTimeout, s.onIdleTimeout)
		return
	}
	s.timer.Reset(s.cfg.KeepAliveTimeout)
}

func (s *Session) onIdleTimeout() {
	s.log.Info().Msg("session idle timeout, shutting down")
	s.ForceShutdown()
}

// ProtocolError carries a CBPP status code through a Handler's error
// return so Session can report it verbatim instead of defaulting to
// StatusInternalError.
type ProtocolError struct {
	Code   cbpp.StatusCode
	Reason string
}

func (e *ProtocolError) Error() string { return e.Reason }
