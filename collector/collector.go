package collector

import (
	"context"
	"errors"
	"time"

	"github.com/MarloweLabs/VoiceWire/logger"
	prommetrics "github.com/MarloweLabs/VoiceWire/metrics/prometheus"
)

// Default timeout windows. Both are configurable because remote endpoint
// latency characteristics vary.
const (
	// DefaultIdleWindow is the sliding wait applied before any text arrives.
	DefaultIdleWindow = 10 * time.Second

	// DefaultDrainWindow is the fixed grace period after the first text
	// fragment. Short, because by then content has already started arriving
	// and the only thing left to catch is trailing audio.
	DefaultDrainWindow = 2 * time.Second
)

// Channel is a duplex message channel to the remote voice endpoint.
// Package transport provides the WebSocket implementation.
//
// A channel is single-owner for the duration of one collection call and is
// not reusable after a terminal state; Collect must not be invoked twice
// concurrently against the same open channel.
type Channel interface {
	// Send writes one outbound payload.
	Send(ctx context.Context, payload []byte) error

	// Receive blocks for at most maxWait for the next inbound message.
	// It returns ErrTimedOut when the window elapses with no message,
	// ErrClosed when the remote endpoint closed normally, the context error
	// on cancellation, and a *ChannelError for transport faults.
	Receive(ctx context.Context, maxWait time.Duration) ([]byte, error)
}

// Config configures a Collector.
type Config struct {
	// IdleWindow is the sliding timeout before the first text fragment.
	// Defaults to DefaultIdleWindow.
	IdleWindow time.Duration

	// DrainWindow is the fixed grace period after the first text fragment.
	// Defaults to DefaultDrainWindow.
	DrainWindow time.Duration
}

func (c *Config) defaults() {
	if c.IdleWindow <= 0 {
		c.IdleWindow = DefaultIdleWindow
	}
	if c.DrainWindow <= 0 {
		c.DrainWindow = DefaultDrainWindow
	}
}

// Result is the aggregated reply for one completed turn. Zero-length text
// and audio are a valid outcome, since the remote side may legitimately
// produce nothing for some inputs; failure is reported as an error instead.
type Result struct {
	// Text is the textual reply, fragments joined in arrival order.
	Text string

	// Audio is the synthesized audio, chunks concatenated in arrival order.
	Audio []byte

	// Reason records which completion path ended the turn.
	Reason Reason
}

// Collector collects one streamed agent reply per Collect call. A Collector
// is stateless between calls and safe for concurrent use against independent
// channels.
type Collector struct {
	cfg Config
}

// New creates a Collector, applying defaults for unset windows.
func New(cfg Config) *Collector {
	cfg.defaults()
	return &Collector{cfg: cfg}
}

// Collect sends outbound on the channel, then drives the receive loop until
// the turn completes. It returns the aggregated result on completion, a
// *CollectionError on channel failure, and an error wrapping ErrCanceled
// when ctx is canceled first.
//
// Each iteration recomputes the receive wait from the active deadline, so a
// heartbeat storm can slide the idle window but can never extend the drain
// window once text has arrived.
func (c *Collector) Collect(ctx context.Context, ch Channel, outbound []byte) (*Result, error) {
	prommetrics.CollectStarted()
	start := time.Now()

	res, err := c.collect(ctx, ch, outbound)

	outcome := "error"
	if err == nil {
		outcome = string(res.Reason)
	} else if errors.Is(err, ErrCanceled) {
		outcome = "canceled"
	}
	prommetrics.CollectFinished(outcome, time.Since(start))
	return res, err
}

func (c *Collector) collect(ctx context.Context, ch Channel, outbound []byte) (*Result, error) {
	if err := ch.Send(ctx, outbound); err != nil {
		// Send failure fails the whole call; the receive loop never starts.
		return nil, &CollectionError{Err: asChannelError("send", err)}
	}

	st := newTurnState(time.Now(), c.cfg.IdleWindow, c.cfg.DrainWindow)

	for {
		if err := ctx.Err(); err != nil {
			return nil, canceled(err)
		}

		now := time.Now()
		if st.expired(now) {
			return c.finish(st, st.timeoutReason())
		}

		data, err := ch.Receive(ctx, st.deadline().Sub(now))
		switch {
		case err == nil:
			for _, f := range Classify(data) {
				prommetrics.FrameReceived(f.Kind())
				wasNormal := st.mode == modeNormal
				if st.observe(f, time.Now()) {
					return c.finish(st, ReasonRemoteClosed)
				}
				if wasNormal && st.mode == modeDraining {
					prommetrics.DrainEntered()
					logger.Debug("entered drain mode",
						"drain_window", c.cfg.DrainWindow)
				}
			}

		case errors.Is(err, ErrTimedOut):
			return c.finish(st, st.timeoutReason())

		case errors.Is(err, ErrClosed):
			return c.finish(st, ReasonRemoteClosed)

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, canceled(err)

		default:
			logger.Warn("channel receive failed", "error", err)
			return nil, &CollectionError{Err: asChannelError("receive", err)}
		}
	}
}

// finish assembles the terminal result. Once reached, no further frame
// processing occurs for this call.
func (c *Collector) finish(st *turnState, reason Reason) (*Result, error) {
	res := &Result{
		Text:   st.text(),
		Audio:  st.audio(),
		Reason: reason,
	}
	logger.Debug("turn complete",
		"reason", string(reason),
		"text_len", len(res.Text),
		"audio_bytes", len(res.Audio))
	return res, nil
}

// canceled wraps a context error so callers can match ErrCanceled while
// still seeing the underlying cause. Cancellation is deliberately not a
// *CollectionError: it is a third outcome, distinct from both success and
// channel failure.
func canceled(cause error) error {
	return errors.Join(ErrCanceled, cause)
}
