// Package cbppclient implements the client side of a CBPP connection: it
// dispatches incoming data and control messages into the job system and
// runs a keep-alive timer that pings the peer and declares it dead after
// two missed pongs.
package cbppclient

import (
	"bytes"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcflux/cbppcore/internal/cbpp"
	"github.com/arcflux/cbppcore/internal/job"
	"github.com/arcflux/cbppcore/internal/observability"
	"github.com/arcflux/cbppcore/internal/obslog"
)

// Handler receives dispatched events from the client's job queue.
type Handler interface {
	OnDataMessageHeader(ctx *job.Context, messageID uint16, payloadLen uint64) error
	OnDataMessagePayload(ctx *job.Context, offset uint64, chunk []byte) error
	OnDataMessageEnd(ctx *job.Context, payloadLen uint64) error
	OnErrorMessage(ctx *job.Context, statusCode cbpp.StatusCode, reason string)
}

// Conn is the minimal transport surface a Client needs; satisfied by
// net.Conn.
type Conn interface {
	Write([]byte) (int, error)
	Close() error
}

// Config tunes keep-alive timing.
type Config struct {
	KeepAliveInterval time.Duration
	Limits            cbpp.Limits
}

// DefaultConfig pings every 5 seconds.
func DefaultConfig() Config {
	return Config{
		KeepAliveInterval: 5 * time.Second,
		Limits:            cbpp.DefaultLimits(),
	}
}

// deadPongSentinel is the initial "no pong received yet" marker: a
// value far enough in the future that the very first keep-alive tick
// never treats a brand new connection as already dead.
const deadPongSentinel = math.MaxInt64

// Client owns one outbound CBPP connection.
type Client struct {
	conn    Conn
	handler Handler
	cfg     Config
	log     zerolog.Logger

	pool  *job.Pool
	queue *job.Queue

	reader *cbpp.Reader

	writeMu sync.Mutex

	payloadOffset uint64
	msgID         uint16
	payload       bytes.Buffer

	lastPongAt    atomic.Int64
	keepAliveOnce sync.Once
	stopKeepAlive chan struct{}

	closed atomic.Bool
}

// New wraps conn in a Client dispatching to handler through pool.
func New(conn Conn, handler Handler, pool *job.Pool, cfg Config) *Client {
	c := &Client{
		conn:          conn,
		handler:       handler,
		cfg:           cfg,
		log:           obslog.With("cbppclient"),
		pool:          pool,
		stopKeepAlive: make(chan struct{}),
	}
	c.lastPongAt.Store(deadPongSentinel)
	c.queue = job.NewQueue(pool, c.alive, c.onFatal)
	c.queue.SetRunObserver(observability.RecordJobRun)
	c.reader = cbpp.NewReader(c, cfg.Limits)
	return c
}

func (c *Client) alive() bool { return !c.closed.Load() }

func (c *Client) onFatal(err error) {
	c.log.Info().Err(err).Msg("client job raised a fatal error, forcing shutdown")
	c.ForceShutdown()
}

// OnReadAvail feeds freshly-read bytes into the decoder.
func (c *Client) OnReadAvail(data []byte) error {
	return c.reader.PutEncodedData(data)
}

// OnDataMessageHeader implements cbpp.Callbacks.
func (c *Client) OnDataMessageHeader(messageID uint16, payloadLen uint64) error {
	c.msgID = messageID
	c.payloadOffset = 0
	c.payload.Reset()
	c.queue.Enqueue(func(ctx *job.Context) error {
		return c.handler.OnDataMessageHeader(ctx, messageID, payloadLen)
	})
	return nil
}

// OnDataMessagePayload implements cbpp.Callbacks.
func (c *Client) OnDataMessagePayload(chunk []byte) error {
	offset := c.payloadOffset
	c.payloadOffset += uint64(len(chunk))
	buf := append([]byte(nil), chunk...)
	c.queue.Enqueue(func(ctx *job.Context) error {
		return c.handler.OnDataMessagePayload(ctx, offset, buf)
	})
	return nil
}

// OnDataMessageEnd implements cbpp.Callbacks.
func (c *Client) OnDataMessageEnd() error {
	total := c.payloadOffset
	c.queue.Enqueue(func(ctx *job.Context) error {
		err := c.handler.OnDataMessageEnd(ctx, total)
		c.lastPongAt.Store(nowMonotonic())
		return err
	})
	return nil
}

// OnControlMessage implements cbpp.Callbacks. Every control message that
// reaches the client, pong included, routes through the same
// error-path handler — an intentionally unresolved ambiguity in how a
// real pong should be distinguished from a protocol error.
func (c *Client) OnControlMessage(msg cbpp.ControlMessage) error {
	c.lastPongAt.Store(nowMonotonic())
	c.queue.Enqueue(func(ctx *job.Context) error {
		c.handler.OnErrorMessage(ctx, cbpp.StatusCode(msg.VintParam), msg.StringParam)
		return nil
	})
	return nil
}

// Send writes one data message, lazily starting the keep-alive timer on
// the first call so a freshly-constructed Client costs nothing until it
// actually talks to its peer.
func (c *Client) Send(messageID uint16, payload []byte) error {
	c.keepAliveOnce.Do(c.startKeepAlive)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf := cbpp.PutDataMessage(nil, messageID, payload)
	_, err := c.conn.Write(buf)
	return err
}

// SendControl writes one control message, also arming the keep-alive
// timer on first use.
func (c *Client) SendControl(code cbpp.ControlCode, vintParam int64, stringParam string) error {
	c.keepAliveOnce.Do(c.startKeepAlive)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf := cbpp.PutControlMessage(nil, code, vintParam, stringParam)
	_, err := c.conn.Write(buf)
	return err
}

func (c *Client) startKeepAlive() {
	go func() {
		ticker := time.NewTicker(c.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopKeepAlive:
				return
			case <-ticker.C:
				c.keepAliveTick()
			}
		}
	}()
}

func (c *Client) keepAliveTick() {
	now := nowMonotonic()
	period := int64(c.cfg.KeepAliveInterval)
	if last := c.lastPongAt.Load(); last != deadPongSentinel && now-last > period*2 {
		c.log.Info().Msg("no pong received since the last two keep-alive intervals, shutting down")
		c.ForceShutdown()
		return
	}
	if err := c.SendControl(cbpp.CtlPing, 0, time.Now().UTC().Format(time.RFC3339)); err != nil {
		c.log.Info().Err(err).Msg("failed to send keep-alive ping")
	}
}

func nowMonotonic() int64 { return time.Now().UnixNano() }

// ForceShutdown closes the underlying connection and stops the keep-alive
// timer. Safe to call more than once.
func (c *Client) ForceShutdown() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopKeepAlive)
	_ = c.conn.Close()
}
