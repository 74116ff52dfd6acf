package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/voice-relay/internal/domain"
	"github.com/ashureev/voice-relay/internal/realtime"
)

// newPeer starts a WebSocket server that hands its side of each connection
// to serve, and returns a dialed client Conn.
func newPeer(t *testing.T, serve func(ctx context.Context, ws *websocket.Conn)) *Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		serve(r.Context(), ws)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	conn := New(ws, "test")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestReceiveEndsOnNormalClose(t *testing.T) {
	conn := newPeer(t, func(ctx context.Context, ws *websocket.Conn) {
		_ = ws.Write(ctx, websocket.MessageText, []byte(`{"n":1}`))
		_ = ws.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02})
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var frames []realtime.Frame
	for f, err := range conn.Receive(ctx) {
		require.NoError(t, err)
		frames = append(frames, f)
	}

	require.Len(t, frames, 2)
	assert.Equal(t, realtime.Text([]byte(`{"n":1}`)), frames[0])
	assert.Equal(t, realtime.Binary([]byte{0x01, 0x02}), frames[1])
}

func TestReceiveYieldsErrorOnAbnormalClose(t *testing.T) {
	conn := newPeer(t, func(_ context.Context, ws *websocket.Conn) {
		_ = ws.Close(websocket.StatusInternalError, "broken")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, err := range conn.Receive(ctx) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
}

func TestSendRoundTrip(t *testing.T) {
	conn := newPeer(t, func(ctx context.Context, ws *websocket.Conn) {
		for {
			typ, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			if err := ws.Write(ctx, typ, data); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Send(ctx, realtime.Text([]byte(`{"echo":true}`))))

	next := conn.Receive(ctx)
	for f, err := range next {
		require.NoError(t, err)
		assert.Equal(t, `{"echo":true}`, string(f.Data))
		break
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	conn := newPeer(t, func(ctx context.Context, ws *websocket.Conn) {
		_, _, _ = ws.Read(ctx)
	})

	require.NoError(t, conn.Close())

	err := conn.Send(context.Background(), realtime.Text([]byte(`{}`)))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWriteFailed)
	assert.ErrorIs(t, err, domain.ErrConnClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := newPeer(t, func(ctx context.Context, ws *websocket.Conn) {
		_, _, _ = ws.Read(ctx)
	})

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestCloseUnblocksReceive(t *testing.T) {
	conn := newPeer(t, func(ctx context.Context, ws *websocket.Conn) {
		_, _, _ = ws.Read(ctx)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, err := range conn.Receive(context.Background()) {
			assert.NoError(t, err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	_ = conn.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Receive did not end after Close")
	}
}
