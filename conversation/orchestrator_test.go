package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarloweLabs/VoiceWire/collector"
	"github.com/MarloweLabs/VoiceWire/storage"
	"github.com/MarloweLabs/VoiceWire/storage/local"
	"github.com/MarloweLabs/VoiceWire/turnstore"
)

// fakeChannel plays back canned inbound messages, then times out.
type fakeChannel struct {
	sent   [][]byte
	msgs   [][]byte
	idx    int
	closed bool
}

func (c *fakeChannel) Send(_ context.Context, payload []byte) error {
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeChannel) Receive(_ context.Context, _ time.Duration) ([]byte, error) {
	if c.idx >= len(c.msgs) {
		return nil, collector.ErrTimedOut
	}
	m := c.msgs[c.idx]
	c.idx++
	return m, nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func textMsg(text string) []byte {
	return fmt.Appendf(nil, `{"serverContent":{"modelTurn":{"parts":[{"text":%q}]}}}`, text)
}

func audioMsg(pcm []byte) []byte {
	return fmt.Appendf(nil,
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":%q}}]}}}`,
		base64.StdEncoding.EncodeToString(pcm))
}

func staticDialer(ch *fakeChannel) Dialer {
	return DialerFunc(func(context.Context) (Channel, error) { return ch, nil })
}

func newTestOrchestrator(t *testing.T, dialer Dialer) (*Orchestrator, *turnstore.MemoryStore) {
	t.Helper()

	media, err := local.NewFileStore(local.FileStoreConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	turns := turnstore.NewMemoryStore()
	orch, err := New(Config{
		Dialer: dialer,
		Turns:  turns,
		Media:  media,
		Collector: collector.New(collector.Config{
			IdleWindow:  100 * time.Millisecond,
			DrainWindow: 50 * time.Millisecond,
		}),
	})
	require.NoError(t, err)
	return orch, turns
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Turns: turnstore.NewMemoryStore()})
	assert.Error(t, err)

	_, err = New(Config{Dialer: staticDialer(&fakeChannel{})})
	assert.Error(t, err)
}

func TestRunTurnPersistsTextAndAudio(t *testing.T) {
	ch := &fakeChannel{msgs: [][]byte{
		textMsg("The weather is "),
		audioMsg([]byte{0x01, 0x02}),
		textMsg("sunny."),
	}}
	orch, turns := newTestOrchestrator(t, staticDialer(ch))

	res, err := orch.RunTurn(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Prompt:         "what's the weather?",
	})
	require.NoError(t, err)

	assert.Equal(t, "The weather is sunny.", res.Turn.Text)
	assert.Equal(t, "conv-1", res.Turn.ConversationID)
	assert.Equal(t, "what's the weather?", res.Turn.Prompt)
	assert.Equal(t, string(collector.ReasonDrainComplete), res.Turn.Reason)
	assert.NotEmpty(t, res.Turn.ID)
	assert.True(t, strings.HasPrefix(res.Turn.AudioRef, "file://"))
	assert.Equal(t, []byte{0x01, 0x02}, res.Audio)
	assert.True(t, ch.closed)

	stored, err := turns.List(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Turn, stored[0])
}

func TestRunTurnSendsClientContentEnvelope(t *testing.T) {
	ch := &fakeChannel{}
	orch, _ := newTestOrchestrator(t, staticDialer(ch))

	_, err := orch.RunTurn(context.Background(), TurnRequest{ConversationID: "c", Prompt: "hello"})
	require.NoError(t, err)

	require.Len(t, ch.sent, 1)
	var msg clientMessage
	require.NoError(t, json.Unmarshal(ch.sent[0], &msg))
	assert.True(t, msg.ClientContent.TurnComplete)
	require.Len(t, msg.ClientContent.Turns, 1)
	assert.Equal(t, "user", msg.ClientContent.Turns[0].Role)
	require.Len(t, msg.ClientContent.Turns[0].Parts, 1)
	assert.Equal(t, "hello", msg.ClientContent.Turns[0].Parts[0].Text)
}

func TestRunTurnMintsConversationID(t *testing.T) {
	orch, _ := newTestOrchestrator(t, staticDialer(&fakeChannel{}))

	res, err := orch.RunTurn(context.Background(), TurnRequest{Prompt: "hi"})
	require.NoError(t, err)

	_, parseErr := uuid.Parse(res.Turn.ConversationID)
	assert.NoError(t, parseErr)
}

func TestRunTurnEmptyReplyIsSuccess(t *testing.T) {
	orch, turns := newTestOrchestrator(t, staticDialer(&fakeChannel{}))

	res, err := orch.RunTurn(context.Background(), TurnRequest{ConversationID: "c", Prompt: "hi"})
	require.NoError(t, err)

	assert.Empty(t, res.Turn.Text)
	assert.Empty(t, res.Audio)
	assert.Empty(t, res.Turn.AudioRef)
	assert.Equal(t, string(collector.ReasonIdleTimeout), res.Turn.Reason)

	stored, err := turns.List(context.Background(), "c")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRunTurnDialFailure(t *testing.T) {
	dialer := DialerFunc(func(context.Context) (Channel, error) {
		return nil, errors.New("endpoint unreachable")
	})
	orch, turns := newTestOrchestrator(t, dialer)

	_, err := orch.RunTurn(context.Background(), TurnRequest{ConversationID: "c", Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial voice endpoint")

	_, err = turns.List(context.Background(), "c")
	assert.ErrorIs(t, err, turnstore.ErrNotFound)
}

// failingBlobStore rejects every write.
type failingBlobStore struct{}

func (failingBlobStore) Put(context.Context, []byte, *storage.Metadata) (storage.Reference, error) {
	return storage.Reference{}, errors.New("disk full")
}

func (failingBlobStore) Get(context.Context, storage.Reference) ([]byte, error) {
	return nil, storage.ErrNotFound
}

func (failingBlobStore) Delete(context.Context, storage.Reference) error {
	return storage.ErrNotFound
}

func (failingBlobStore) URL(context.Context, storage.Reference, time.Duration) (string, error) {
	return "", storage.ErrNotFound
}

func TestRunTurnAudioFailureStillPersistsText(t *testing.T) {
	ch := &fakeChannel{msgs: [][]byte{textMsg("reply"), audioMsg([]byte{1})}}

	turns := turnstore.NewMemoryStore()
	orch, err := New(Config{
		Dialer: staticDialer(ch),
		Turns:  turns,
		Media:  failingBlobStore{},
	})
	require.NoError(t, err)

	res, err := orch.RunTurn(context.Background(), TurnRequest{ConversationID: "c", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "reply", res.Turn.Text)
	assert.Empty(t, res.Turn.AudioRef)
	assert.Equal(t, []byte{1}, res.Audio)

	stored, err := turns.List(context.Background(), "c")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRunTurnsRunsAllRequests(t *testing.T) {
	dialer := DialerFunc(func(context.Context) (Channel, error) {
		return &fakeChannel{msgs: [][]byte{textMsg("ok")}}, nil
	})
	orch, turns := newTestOrchestrator(t, dialer)

	reqs := []TurnRequest{
		{ConversationID: "a", Prompt: "one"},
		{ConversationID: "b", Prompt: "two"},
		{ConversationID: "c", Prompt: "three"},
	}
	results, err := orch.RunTurns(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, reqs[i].ConversationID, res.Turn.ConversationID)
		assert.Equal(t, "ok", res.Turn.Text)
	}

	for _, id := range []string{"a", "b", "c"} {
		count, err := turns.Count(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
}
