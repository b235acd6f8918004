// Package s3 provides S3-compatible blob storage with presigned URL issuance.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/MarloweLabs/VoiceWire/storage"
)

// defaultURLExpiry is applied when the caller passes a zero expiry.
const defaultURLExpiry = 15 * time.Minute

// Config holds configuration for the S3 storage backend.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	// Required by most S3-compatible providers (R2, MinIO, etc.).
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// api is the subset of the S3 client the store uses; narrowed for testing.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// presigner issues presigned GET URLs; narrowed for testing.
type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4PresignedRequest, error)
}

// v4PresignedRequest mirrors the fields of the SDK's presigned request that
// the store consumes.
type v4PresignedRequest struct {
	URL string
}

// sdkPresigner adapts *s3.PresignClient to the presigner interface.
type sdkPresigner struct {
	client *s3.PresignClient
}

func (p *sdkPresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4PresignedRequest, error) {
	req, err := p.client.PresignGetObject(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return &v4PresignedRequest{URL: req.URL}, nil
}

// Store implements storage.BlobStore against an S3-compatible bucket.
type Store struct {
	cfg     Config
	client  api
	presign presigner
}

// New creates an S3 store using the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &Store{
		cfg:     cfg,
		client:  client,
		presign: &sdkPresigner{client: s3.NewPresignClient(client)},
	}, nil
}

// Put stores data under a content-addressed key and returns its reference.
// Raw PCM payloads are wrapped in a WAV container before upload.
func (s *Store) Put(ctx context.Context, data []byte, meta *storage.Metadata) (storage.Reference, error) {
	if meta == nil {
		meta = &storage.Metadata{}
	}

	payload := data
	contentType := meta.ContentType
	if storage.IsRawPCM(contentType) || contentType == "" {
		payload = storage.WrapPCM(data, meta.SampleRate, meta.Channels, meta.BitDepth)
		contentType = "audio/wav"
	}

	key := s.objectKey(meta, payload)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return storage.Reference{}, fmt.Errorf("s3 put failed: %w", err)
	}

	return storage.Reference{Backend: storage.BackendS3, Key: key}, nil
}

// Get retrieves the stored blob by reference.
func (s *Store) Get(ctx context.Context, ref storage.Reference) ([]byte, error) {
	if err := s.checkRef(ref); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3 object body: %w", err)
	}
	return data, nil
}

// Delete removes the blob from the bucket.
func (s *Store) Delete(ctx context.Context, ref storage.Reference) error {
	if err := s.checkRef(ref); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

// URL issues a presigned GET URL for the blob, valid for the given expiry.
func (s *Store) URL(ctx context.Context, ref storage.Reference, expiry time.Duration) (string, error) {
	if err := s.checkRef(ref); err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(ref.Key),
	}, func(o *s3.PresignOptions) {
		o.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("s3 presign failed: %w", err)
	}
	return req.URL, nil
}

// checkRef rejects malformed or foreign references.
func (s *Store) checkRef(ref storage.Reference) error {
	if ref.Backend != storage.BackendS3 || ref.Key == "" {
		return storage.ErrInvalidReference
	}
	return nil
}

// objectKey builds a content-addressed key under the configured prefix,
// grouped by conversation when known.
func (s *Store) objectKey(meta *storage.Metadata, payload []byte) string {
	hash := sha256.Sum256(payload)
	name := hex.EncodeToString(hash[:]) + ".wav"

	parts := make([]string, 0, 3)
	if s.cfg.Prefix != "" {
		parts = append(parts, s.cfg.Prefix)
	}
	if meta.ConversationID != "" {
		parts = append(parts, meta.ConversationID)
	}
	parts = append(parts, name)
	return path.Join(parts...)
}
