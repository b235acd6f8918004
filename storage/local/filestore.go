// Package local provides local filesystem-based blob storage.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarloweLabs/VoiceWire/logger"
	"github.com/MarloweLabs/VoiceWire/storage"
)

const (
	// dirPermissions is the mode for created conversation directories.
	dirPermissions = 0o750
	// filePermissions is the mode for stored blobs.
	filePermissions = 0o600
)

// FileStoreConfig configures the local filesystem storage backend.
type FileStoreConfig struct {
	// BaseDir is the root directory for blob storage.
	BaseDir string
}

// FileStore implements storage.BlobStore using the local filesystem.
// Blobs are content-addressed (SHA-256) and grouped by conversation, so
// storing identical audio twice is idempotent.
type FileStore struct {
	config FileStoreConfig
}

// NewFileStore creates a local file store rooted at cfg.BaseDir.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileStore{config: cfg}, nil
}

// Put stores data and returns a local reference. Raw PCM payloads are
// wrapped in a WAV container so the file is playable as issued.
func (fs *FileStore) Put(_ context.Context, data []byte, meta *storage.Metadata) (storage.Reference, error) {
	if meta == nil {
		meta = &storage.Metadata{}
	}

	payload := data
	ext := extensionFor(meta.ContentType)
	if storage.IsRawPCM(meta.ContentType) || meta.ContentType == "" {
		payload = storage.WrapPCM(data, meta.SampleRate, meta.Channels, meta.BitDepth)
		ext = ".wav"
	}

	hash := sha256.Sum256(payload)
	name := hex.EncodeToString(hash[:]) + ext

	dir := fs.config.BaseDir
	if meta.ConversationID != "" {
		dir = filepath.Join(dir, meta.ConversationID)
	}
	path := filepath.Join(dir, name)

	if err := fs.validatePath(path); err != nil {
		return storage.Reference{}, err
	}

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return storage.Reference{}, fmt.Errorf("failed to create directory: %w", err)
	}

	// Content addressing makes duplicate writes harmless; skip the write
	// when the blob already exists.
	if _, err := os.Stat(path); err == nil {
		logger.Debug("blob already stored", "path", path)
	} else if err := os.WriteFile(path, payload, filePermissions); err != nil {
		return storage.Reference{}, fmt.Errorf("failed to write blob: %w", err)
	}

	key, err := filepath.Rel(fs.config.BaseDir, path)
	if err != nil {
		return storage.Reference{}, fmt.Errorf("failed to compute key: %w", err)
	}

	return storage.Reference{Backend: storage.BackendLocal, Key: key}, nil
}

// Get retrieves a stored blob by reference.
func (fs *FileStore) Get(_ context.Context, ref storage.Reference) ([]byte, error) {
	path, err := fs.resolve(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Delete removes a stored blob.
func (fs *FileStore) Delete(_ context.Context, ref storage.Reference) error {
	path, err := fs.resolve(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// URL returns a file:// URL for the blob. Expiry is ignored for local storage.
func (fs *FileStore) URL(_ context.Context, ref storage.Reference, _ time.Duration) (string, error) {
	path, err := fs.resolve(ref)
	if err != nil {
		return "", err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// resolve maps a reference to a validated filesystem path.
func (fs *FileStore) resolve(ref storage.Reference) (string, error) {
	if ref.Backend != storage.BackendLocal || ref.Key == "" {
		return "", storage.ErrInvalidReference
	}

	path := filepath.Join(fs.config.BaseDir, filepath.FromSlash(ref.Key))
	if err := fs.validatePath(path); err != nil {
		return "", err
	}
	return path, nil
}

// validatePath checks that the given path is within the base directory.
// This prevents path traversal (e.g. ../../etc/passwd) through crafted keys.
func (fs *FileStore) validatePath(path string) error {
	absBase, err := filepath.Abs(fs.config.BaseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absBase = filepath.Clean(absBase)

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	if absPath != absBase &&
		!strings.HasPrefix(absPath+string(filepath.Separator), absBase+string(filepath.Separator)) {
		return fmt.Errorf("%w: path %q is outside base directory", storage.ErrInvalidReference, path)
	}
	return nil
}

// extensionFor maps a content type to a file extension.
func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "audio/wav"):
		return ".wav"
	case strings.HasPrefix(contentType, "audio/mpeg"), strings.HasPrefix(contentType, "audio/mp3"):
		return ".mp3"
	case strings.HasPrefix(contentType, "audio/ogg"), strings.HasPrefix(contentType, "audio/opus"):
		return ".ogg"
	default:
		return ".bin"
	}
}
