package s3

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarloweLabs/VoiceWire/storage"
)

// fakeAPI records the last call per operation and serves canned objects.
type fakeAPI struct {
	putInput *awss3.PutObjectInput
	objects  map[string][]byte
	delKey   string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string][]byte)}
}

func (f *fakeAPI) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	f.putInput = in
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	data := f.objects[*in.Key]
	return &awss3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.delKey = *in.Key
	delete(f.objects, *in.Key)
	return &awss3.DeleteObjectOutput{}, nil
}

type fakePresigner struct {
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.PresignOptions)) (*v4PresignedRequest, error) {
	var po awss3.PresignOptions
	for _, opt := range opts {
		opt(&po)
	}
	f.expires = po.Expires
	return &v4PresignedRequest{URL: "https://example.com/" + *in.Key + "?signed"}, nil
}

func newTestStore(cfg Config) (*Store, *fakeAPI, *fakePresigner) {
	api := newFakeAPI()
	ps := &fakePresigner{}
	return &Store{cfg: cfg, client: api, presign: ps}, api, ps
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.NoError(t, (&Config{Bucket: "b"}).Validate())
}

func TestPutWrapsPCMAndAddressesByContent(t *testing.T) {
	store, api, _ := newTestStore(Config{Bucket: "audio", Prefix: "turns"})
	ctx := context.Background()
	pcm := []byte{0x01, 0x02}

	ref, err := store.Put(ctx, pcm, &storage.Metadata{
		ConversationID: "conv-1",
		ContentType:    "audio/pcm",
	})
	require.NoError(t, err)

	assert.Equal(t, storage.BackendS3, ref.Backend)
	assert.True(t, strings.HasPrefix(ref.Key, "turns/conv-1/"))
	assert.True(t, strings.HasSuffix(ref.Key, ".wav"))

	require.NotNil(t, api.putInput)
	assert.Equal(t, "audio", *api.putInput.Bucket)
	assert.Equal(t, "audio/wav", *api.putInput.ContentType)

	stored := api.objects[ref.Key]
	assert.Equal(t, "RIFF", string(stored[0:4]))
	assert.Equal(t, pcm, stored[len(stored)-len(pcm):])
}

func TestPutSameContentSameKey(t *testing.T) {
	store, _, _ := newTestStore(Config{Bucket: "audio"})
	ctx := context.Background()
	meta := &storage.Metadata{ContentType: "audio/pcm"}

	ref1, err := store.Put(ctx, []byte{1, 2, 3}, meta)
	require.NoError(t, err)
	ref2, err := store.Put(ctx, []byte{1, 2, 3}, meta)
	require.NoError(t, err)

	assert.Equal(t, ref1.Key, ref2.Key)
}

func TestGetRoundTrip(t *testing.T) {
	store, _, _ := newTestStore(Config{Bucket: "audio"})
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte{9, 9}, &storage.Metadata{ContentType: "audio/pcm"})
	require.NoError(t, err)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[0:4]))
}

func TestDeleteUsesReferenceKey(t *testing.T) {
	store, api, _ := newTestStore(Config{Bucket: "audio"})
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte{7}, &storage.Metadata{ContentType: "audio/pcm"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, ref))
	assert.Equal(t, ref.Key, api.delKey)
}

func TestURLPresignsWithExpiry(t *testing.T) {
	store, _, ps := newTestStore(Config{Bucket: "audio"})
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte{5}, &storage.Metadata{ContentType: "audio/pcm"})
	require.NoError(t, err)

	url, err := store.URL(ctx, ref, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, url, ref.Key)
	assert.Equal(t, time.Hour, ps.expires)
}

func TestURLDefaultExpiry(t *testing.T) {
	store, _, ps := newTestStore(Config{Bucket: "audio"})
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte{5}, &storage.Metadata{ContentType: "audio/pcm"})
	require.NoError(t, err)

	_, err = store.URL(ctx, ref, 0)
	require.NoError(t, err)
	assert.Equal(t, defaultURLExpiry, ps.expires)
}

func TestRejectsForeignReference(t *testing.T) {
	store, _, _ := newTestStore(Config{Bucket: "audio"})
	ctx := context.Background()

	_, err := store.Get(ctx, storage.Reference{Backend: storage.BackendLocal, Key: "x.wav"})
	assert.ErrorIs(t, err, storage.ErrInvalidReference)

	_, err = store.URL(ctx, storage.Reference{Backend: storage.BackendS3}, time.Minute)
	assert.ErrorIs(t, err, storage.ErrInvalidReference)
}
