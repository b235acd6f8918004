package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarloweLabs/VoiceWire/collector"
)

// newWSServer starts a test WebSocket server; handler runs per connection.
func newWSServer(t *testing.T, handler func(c *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendAndReceiveEcho(t *testing.T) {
	srv := newWSServer(t, func(c *websocket.Conn) {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		_ = c.WriteMessage(msgType, data)
	})

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	require.NoError(t, conn.Send(ctx, []byte(`{"hello":"world"}`)))

	data, err := conn.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(data))
}

func TestReceiveTimesOut(t *testing.T) {
	srv := newWSServer(t, func(c *websocket.Conn) {
		// Hold the connection open without sending anything.
		_, _, _ = c.ReadMessage()
	})

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	_, err = conn.Receive(context.Background(), 50*time.Millisecond)

	assert.ErrorIs(t, err, collector.ErrTimedOut)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReceiveRemoteClose(t *testing.T) {
	srv := newWSServer(t, func(c *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.WriteMessage(websocket.CloseMessage, msg)
		// Wait for the client's close response.
		_, _, _ = c.ReadMessage()
	})

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Receive(context.Background(), time.Second)
	assert.ErrorIs(t, err, collector.ErrClosed)
}

func TestReceiveContextCancellation(t *testing.T) {
	srv := newWSServer(t, func(c *websocket.Conn) {
		_, _, _ = c.ReadMessage()
	})

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = conn.Receive(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialSendsBearerToken(t *testing.T) {
	var gotAuth string
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Close()
	}))
	t.Cleanup(srv.Close)

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv), APIKey: "test-key"})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestDialWithRetryExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	srv.Close() // nothing is listening

	_, err := DialWithRetry(context.Background(), Config{
		URL:              wsURL(srv),
		MaxRetries:       2,
		RetryBackoffBase: 10 * time.Millisecond,
		RetryBackoffMax:  20 * time.Millisecond,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestSendAfterClose(t *testing.T) {
	srv := newWSServer(t, func(c *websocket.Conn) {
		_, _, _ = c.ReadMessage()
	})

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	err = conn.Send(context.Background(), []byte("late"))
	var chanErr *collector.ChannelError
	require.ErrorAs(t, err, &chanErr)
	assert.Equal(t, "send", chanErr.Op)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := newWSServer(t, func(c *websocket.Conn) {
		_, _, _ = c.ReadMessage()
	})

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	require.NoError(t, err)
	assert.True(t, conn.IsConnected())

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.False(t, conn.IsConnected())
}

func TestCalculateBackoffStaysBounded(t *testing.T) {
	maxDelay := 5 * time.Second
	for range 100 {
		d := calculateBackoff(2*time.Second, maxDelay)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, maxDelay)
	}
}
