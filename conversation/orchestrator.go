// Package conversation orchestrates single request/response exchanges with
// the remote voice endpoint.
//
// The orchestrator establishes a fresh channel for every turn (channels are
// not reusable after a terminal state), runs the collector against it, and
// on success hands the result to the turn log and the audio blob store. On
// failure the error is surfaced without retrying the same channel.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MarloweLabs/VoiceWire/collector"
	"github.com/MarloweLabs/VoiceWire/logger"
	prommetrics "github.com/MarloweLabs/VoiceWire/metrics/prometheus"
	"github.com/MarloweLabs/VoiceWire/storage"
	"github.com/MarloweLabs/VoiceWire/telemetry"
	"github.com/MarloweLabs/VoiceWire/turnstore"
)

// defaultURLExpiry bounds the validity of issued audio URLs.
const defaultURLExpiry = 15 * time.Minute

// defaultBatchLimit caps concurrent turns in RunTurns.
const defaultBatchLimit = 4

// Channel is a closable duplex channel for one turn.
type Channel interface {
	collector.Channel
	Close() error
}

// Dialer establishes a fresh, already-authorized channel to the voice
// endpoint. Each RunTurn call dials exactly once.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Channel, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Channel, error) { return f(ctx) }

// Config configures an Orchestrator.
type Config struct {
	// Dialer establishes channels. Required.
	Dialer Dialer

	// Turns is the append-only turn log. Required.
	Turns turnstore.Store

	// Media stores synthesized audio and issues URLs. Optional; when nil,
	// audio is returned to the caller but not persisted.
	Media storage.BlobStore

	// Collector runs the receive loop. Defaults to collector.New with
	// default windows.
	Collector *collector.Collector

	// TracerProvider emits one span per turn. Optional.
	TracerProvider trace.TracerProvider

	// URLExpiry bounds issued audio URLs. Defaults to 15 minutes.
	URLExpiry time.Duration

	// BatchLimit caps concurrent turns in RunTurns. Defaults to 4.
	BatchLimit int
}

// TurnRequest is one exchange to run.
type TurnRequest struct {
	// ConversationID groups the turn; minted when empty.
	ConversationID string

	// Prompt is the user message to send.
	Prompt string
}

// TurnResult is the caller-visible outcome of a completed turn.
type TurnResult struct {
	// Turn is the persisted record.
	Turn turnstore.Turn

	// Audio is the raw collected audio. Callers needing a durable handle
	// should prefer Turn.AudioRef.
	Audio []byte
}

// Orchestrator runs turns against the voice endpoint. Safe for concurrent
// use; every turn owns its channel and state exclusively.
type Orchestrator struct {
	cfg    Config
	tracer trace.Tracer
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("conversation.Config.Dialer is required")
	}
	if cfg.Turns == nil {
		return nil, errors.New("conversation.Config.Turns is required")
	}
	if cfg.Collector == nil {
		cfg.Collector = collector.New(collector.Config{})
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = defaultURLExpiry
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}

	return &Orchestrator{
		cfg:    cfg,
		tracer: telemetry.Tracer(cfg.TracerProvider),
	}, nil
}

// RunTurn executes one request/response exchange: dial, collect, persist.
// An empty reply is a valid success; cancellation and channel failure are
// returned as errors without persisting anything.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	ctx, span := o.tracer.Start(ctx, "conversation.turn",
		trace.WithAttributes(attribute.String("conversation.id", req.ConversationID)))
	defer span.End()

	res, err := o.runTurn(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		status := "error"
		if errors.Is(err, collector.ErrCanceled) {
			status = "canceled"
		}
		prommetrics.TurnCompleted(status, 0)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("turn.reason", res.Turn.Reason),
		attribute.Int("turn.text_len", len(res.Turn.Text)),
		attribute.Int("turn.audio_bytes", len(res.Audio)),
	)
	prommetrics.TurnCompleted("success", len(res.Audio))
	return res, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ch, err := o.cfg.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial voice endpoint: %w", err)
	}
	// The channel is terminal after one collection call, whatever happened.
	defer ch.Close()

	outbound, err := encodeClientMessage(req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("encode outbound message: %w", err)
	}

	collected, err := o.cfg.Collector.Collect(ctx, ch, outbound)
	if err != nil {
		return nil, err
	}

	turn := turnstore.Turn{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		Prompt:         req.Prompt,
		Text:           collected.Text,
		Reason:         string(collected.Reason),
		CreatedAt:      time.Now().UTC(),
	}

	if o.cfg.Media != nil && len(collected.Audio) > 0 {
		url, err := o.storeAudio(ctx, &turn, collected.Audio)
		if err != nil {
			// A failed audio write does not fail the turn.
			logger.WarnContext(ctx, "failed to store turn audio",
				"conversation_id", turn.ConversationID, "error", err)
		} else {
			turn.AudioRef = url
		}
	}

	if err := o.cfg.Turns.Append(ctx, turn.ConversationID, turn); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	logger.DebugContext(ctx, "turn persisted",
		"conversation_id", turn.ConversationID,
		"turn_id", turn.ID,
		"reason", turn.Reason)

	return &TurnResult{Turn: turn, Audio: collected.Audio}, nil
}

// storeAudio writes the collected audio to the blob store and issues its URL.
func (o *Orchestrator) storeAudio(ctx context.Context, turn *turnstore.Turn, audio []byte) (string, error) {
	ref, err := o.cfg.Media.Put(ctx, audio, &storage.Metadata{
		ConversationID: turn.ConversationID,
		TurnID:         turn.ID,
		ContentType:    "audio/pcm",
	})
	if err != nil {
		return "", err
	}

	url, err := o.cfg.Media.URL(ctx, ref, o.cfg.URLExpiry)
	if err != nil {
		return "", err
	}
	return url, nil
}

// RunTurns executes independent turns concurrently, each against its own
// channel, bounded by Config.BatchLimit. Results are returned in request
// order; the first error cancels the remaining turns.
func (o *Orchestrator) RunTurns(ctx context.Context, reqs []TurnRequest) ([]*TurnResult, error) {
	results := make([]*TurnResult, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.BatchLimit)

	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.RunTurn(ctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Outbound wire envelope. The remote endpoint expects a client content
// message carrying the user turn; turnComplete tells it to start responding.
type clientMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []clientTurn `json:"turns"`
	TurnComplete bool         `json:"turnComplete"`
}

type clientTurn struct {
	Role  string       `json:"role"`
	Parts []clientPart `json:"parts"`
}

type clientPart struct {
	Text string `json:"text"`
}

func encodeClientMessage(prompt string) ([]byte, error) {
	msg := clientMessage{
		ClientContent: clientContent{
			Turns: []clientTurn{
				{
					Role:  "user",
					Parts: []clientPart{{Text: prompt}},
				},
			},
			TurnComplete: true,
		},
	}
	return json.Marshal(msg)
}
