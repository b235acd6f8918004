// Package storage defines blob storage for synthesized audio and the
// references used to hand audio URLs back to callers.
//
// Implementations may store blobs on the local filesystem (storage/local) or
// in S3-compatible object stores (storage/s3). Implementations must be safe
// for concurrent use by multiple goroutines.
package storage

import (
	"context"
	"errors"
	"time"
)

// Backend identifiers for Reference.Backend.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Reference uniquely identifies a stored blob. It is what orchestration
// records on a persisted turn instead of the audio bytes themselves.
type Reference struct {
	// Backend names the store that holds the blob.
	Backend string `json:"backend"`

	// Key is the backend-specific key for the blob.
	Key string `json:"key"`
}

// Metadata describes a blob for organization and encoding decisions.
type Metadata struct {
	// ConversationID and TurnID associate the blob with its turn.
	ConversationID string
	TurnID         string

	// ContentType is the MIME type of the payload. Raw PCM
	// ("audio/pcm", "audio/L16") is wrapped in a WAV container on store so
	// issued URLs point at playable files.
	ContentType string

	// PCM parameters, used when wrapping raw PCM. Zero values fall back to
	// the voice endpoint's output format (24 kHz, 16-bit, mono).
	SampleRate int
	Channels   int
	BitDepth   int
}

// BlobStore stores audio blobs and issues access URLs.
type BlobStore interface {
	// Put stores data and returns a reference for later retrieval.
	Put(ctx context.Context, data []byte, meta *Metadata) (Reference, error)

	// Get retrieves the stored blob by reference.
	Get(ctx context.Context, ref Reference) ([]byte, error)

	// Delete removes the blob. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, ref Reference) error

	// URL returns a URL that can be used to access the blob.
	// For local storage this is a file:// URL and expiry is ignored;
	// for object stores it is a signed URL valid for the given duration.
	URL(ctx context.Context, ref Reference, expiry time.Duration) (string, error)
}

// ErrNotFound is returned when a reference doesn't resolve to a stored blob.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidReference is returned for malformed or foreign references.
var ErrInvalidReference = errors.New("invalid storage reference")
