// Package transport provides the WebSocket implementation of the collector's
// duplex channel.
//
// The package owns transport-level concerns only (dial, retry, send, bounded
// receive, graceful shutdown); message decoding belongs to the collector's
// classifier. A Conn is handed to exactly one collection call at a time and
// is not reusable after a terminal state.
package transport

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MarloweLabs/VoiceWire/collector"
	"github.com/MarloweLabs/VoiceWire/logger"
)

// Default connection constants.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024 // 16MB
	DefaultMaxRetries       = 3
	DefaultRetryBackoffBase = 1 * time.Second
	DefaultRetryBackoffMax  = 30 * time.Second
	DefaultCloseGracePeriod = 5 * time.Second
)

// jitterFactor is the +-25% jitter applied to backoff delays.
const jitterFactor = 0.25

// jitterPrecision is the granularity for crypto/rand jitter generation.
const jitterPrecision = 1000

// jitterHalfPrecision normalizes jitter output to the range [-1, 1].
const jitterHalfPrecision = jitterPrecision / 2

// Config configures the WebSocket connection behavior.
type Config struct {
	// URL is the WebSocket endpoint URL.
	URL string

	// APIKey, when set, is sent as a bearer token during the handshake.
	APIKey string

	// Headers are sent during the WebSocket handshake.
	Headers http.Header

	// DialTimeout is the handshake timeout. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// WriteWait is the write deadline for each message. Defaults to DefaultWriteWait.
	WriteWait time.Duration

	// MaxMessageSize is the read limit. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// MaxRetries is the number of connection attempts for DialWithRetry.
	// Defaults to DefaultMaxRetries.
	MaxRetries int

	// RetryBackoffBase is the initial backoff delay. Defaults to DefaultRetryBackoffBase.
	RetryBackoffBase time.Duration

	// RetryBackoffMax caps the backoff delay. Defaults to DefaultRetryBackoffMax.
	RetryBackoffMax time.Duration

	// CloseGracePeriod is the deadline for writing the close frame.
	// Defaults to DefaultCloseGracePeriod.
	CloseGracePeriod time.Duration
}

func (c *Config) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoffBase == 0 {
		c.RetryBackoffBase = DefaultRetryBackoffBase
	}
	if c.RetryBackoffMax == 0 {
		c.RetryBackoffMax = DefaultRetryBackoffMax
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.APIKey != "" {
		if c.Headers == nil {
			c.Headers = http.Header{}
		}
		c.Headers.Set("Authorization", "Bearer "+c.APIKey)
	}
}

// Conn is a WebSocket-backed duplex channel. It implements collector.Channel
// with bounded receives and serialized writes (gorilla/websocket does not
// support concurrent writers).
type Conn struct {
	cfg Config

	conn    *websocket.Conn
	mu      sync.Mutex
	writeMu sync.Mutex // serializes writes (gorilla/websocket requirement)
	closed  bool
}

// Conn implements collector.Channel.
var _ collector.Channel = (*Conn)(nil)

// NewConn creates a new Conn. Call Dial or DialWithRetry to establish the
// connection.
func NewConn(cfg *Config) *Conn {
	cfg.defaults()
	return &Conn{cfg: *cfg}
}

// Dial establishes the WebSocket connection.
func (c *Conn) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &collector.ChannelError{Op: "dial", Err: errors.New("connection is closed")}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	logger.Debug("connecting to WebSocket", "url", c.cfg.URL)

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
			logger.Error("WebSocket dial failed", "error", err, "status", resp.StatusCode)
		}
		return &collector.ChannelError{Op: "dial", Err: err}
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	conn.SetReadLimit(c.cfg.MaxMessageSize)

	c.conn = conn
	logger.Debug("WebSocket connected")

	return nil
}

// DialWithRetry attempts to connect with exponential backoff and jitter.
func (c *Conn) DialWithRetry(ctx context.Context) error {
	var lastErr error
	backoff := c.cfg.RetryBackoffBase

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.Dial(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		logger.Warn("connection attempt failed",
			"attempt", attempt, "maxAttempts", c.cfg.MaxRetries, "error", lastErr)

		if attempt < c.cfg.MaxRetries {
			delay := calculateBackoff(backoff, c.cfg.RetryBackoffMax)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			backoff *= 2
			if backoff > c.cfg.RetryBackoffMax {
				backoff = c.cfg.RetryBackoffMax
			}
		}
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

// Dial establishes a connected Conn in one call.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	c := NewConn(&cfg)
	if err := c.Dial(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// DialWithRetry establishes a connected Conn, retrying with backoff.
func DialWithRetry(ctx context.Context, cfg Config) (*Conn, error) {
	c := NewConn(&cfg)
	if err := c.DialWithRetry(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Send writes one outbound payload as a text message.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return &collector.ChannelError{Op: "send", Err: errors.New("websocket is not connected")}
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return &collector.ChannelError{Op: "send", Err: fmt.Errorf("set write deadline: %w", err)}
	}

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return &collector.ChannelError{Op: "send", Err: err}
	}

	return nil
}

// Receive blocks for at most maxWait for the next inbound message. It maps
// transport outcomes onto the collector's contract: collector.ErrTimedOut
// when the window elapses, collector.ErrClosed on a normal remote close,
// the context error on cancellation, and *collector.ChannelError otherwise.
//
// A timed-out read leaves the underlying gorilla connection unusable; that
// is acceptable here because every timeout is terminal for the turn and
// channels are never reused across turns.
func (c *Conn) Receive(ctx context.Context, maxWait time.Duration) ([]byte, error) {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil, &collector.ChannelError{Op: "receive", Err: errors.New("websocket is not connected")}
	}
	conn := c.conn
	c.mu.Unlock()

	// The read deadline implements maxWait only; context expiry is handled
	// below so it surfaces as cancellation, not as a turn-ending timeout.
	if err := conn.SetReadDeadline(time.Now().Add(maxWait)); err != nil {
		return nil, &collector.ChannelError{Op: "receive", Err: fmt.Errorf("set read deadline: %w", err)}
	}

	type readResult struct {
		msgType int
		data    []byte
		err     error
	}
	ch := make(chan readResult, 1)

	go func() {
		msgType, data, err := conn.ReadMessage()
		ch <- readResult{msgType: msgType, data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		// Unblock the pending read and wait for the goroutine so no two
		// readers ever overlap on the same connection.
		_ = conn.SetReadDeadline(time.Now())
		<-ch
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, c.mapReadError(r.err)
		}
		// Accept both text and binary messages
		if r.msgType != websocket.TextMessage && r.msgType != websocket.BinaryMessage {
			return nil, &collector.ChannelError{Op: "receive",
				Err: fmt.Errorf("unexpected message type: %d", r.msgType)}
		}
		return r.data, nil
	}
}

// mapReadError translates gorilla read errors onto the channel contract.
func (c *Conn) mapReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return collector.ErrClosed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return collector.ErrTimedOut
	}

	return &collector.ChannelError{Op: "receive", Err: err}
}

// Close gracefully closes the WebSocket connection. Safe to call multiple times.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
	_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	c.writeMu.Unlock()

	return c.conn.Close()
}

// IsConnected returns true if the connection has been established and has
// not been closed.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// calculateBackoff computes a backoff duration with +-25% jitter, capped at maxDelay.
func calculateBackoff(base, maxDelay time.Duration) time.Duration {
	delay := float64(base)
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(jitterPrecision))
	jitter := delay * jitterFactor * (float64(n.Int64())/jitterHalfPrecision - 1)
	result := delay + jitter
	if result < 0 {
		result = float64(base)
	}
	if result > float64(maxDelay) {
		result = float64(maxDelay)
	}
	return time.Duration(math.Max(result, 0))
}
