// Package turnstore provides the append-only log of completed conversational
// turns, keyed by conversation ID.
//
// The collector itself never persists anything; orchestration appends a Turn
// here after a collection call returns successfully.
package turnstore

import (
	"context"
	"errors"
	"time"
)

// Turn is one completed request/response exchange with the voice endpoint.
type Turn struct {
	// ID uniquely identifies the turn.
	ID string `json:"id"`

	// ConversationID groups turns into a conversation.
	ConversationID string `json:"conversation_id"`

	// Prompt is the outbound message that started the turn.
	Prompt string `json:"prompt"`

	// Text is the agent's textual reply, fragments joined in arrival order.
	Text string `json:"text"`

	// AudioRef is the storage reference URL for the synthesized audio,
	// empty when the turn produced no audio.
	AudioRef string `json:"audio_ref,omitempty"`

	// Reason records how the turn completed (idle timeout, drain complete,
	// remote close) for diagnostics.
	Reason string `json:"reason,omitempty"`

	// CreatedAt is when the turn completed.
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the interface for persistent turn storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append appends a turn to the conversation's log, creating the
	// conversation if it doesn't exist.
	Append(ctx context.Context, conversationID string, turn Turn) error

	// List returns all turns for the conversation in append order.
	// Returns ErrNotFound if the conversation doesn't exist.
	List(ctx context.Context, conversationID string) ([]Turn, error)

	// Count returns the number of turns in the conversation.
	// Returns ErrNotFound if the conversation doesn't exist.
	Count(ctx context.Context, conversationID string) (int, error)

	// Delete removes the conversation and all its turns.
	// Returns ErrNotFound if the conversation doesn't exist.
	Delete(ctx context.Context, conversationID string) error
}

// ErrNotFound is returned when a conversation doesn't exist in the store.
var ErrNotFound = errors.New("conversation not found")

// ErrInvalidID is returned when an invalid conversation ID is provided.
var ErrInvalidID = errors.New("invalid conversation ID")
