package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueDropNewest(t *testing.T) {
	q := NewQueue(2, BackpressureDropNewest)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, domain.NewsEvent{ID: "1"}))
	require.NoError(t, q.Publish(ctx, domain.NewsEvent{ID: "2"}))
	require.ErrorIs(t, q.Publish(ctx, domain.NewsEvent{ID: "3"}), ErrQueueFull)

	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, "1", (<-q.C()).ID)
	assert.Equal(t, "2", (<-q.C()).ID)
}

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue(2, BackpressureDropOldest)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, q.Publish(ctx, domain.NewsEvent{ID: id}))
	}
	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, "2", (<-q.C()).ID)
	assert.Equal(t, "3", (<-q.C()).ID)
}

func TestQueueBlockHonoursContext(t *testing.T) {
	q := NewQueue(1, BackpressureBlock)
	require.NoError(t, q.Publish(context.Background(), domain.NewsEvent{ID: "1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Publish(ctx, domain.NewsEvent{ID: "2"}), context.DeadlineExceeded)
	assert.Zero(t, q.Dropped())
	assert.Equal(t, 1, q.Len())
}

func TestParseBackpressure(t *testing.T) {
	p, err := ParseBackpressure("")
	require.NoError(t, err)
	assert.Equal(t, BackpressureBlock, p)

	p, err = ParseBackpressure("DROP_OLDEST")
	require.NoError(t, err)
	assert.Equal(t, BackpressureDropOldest, p)

	_, err = ParseBackpressure("spill")
	require.Error(t, err)
}

func TestDecodeEventShapes(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"id":"n1","sentiment":"Positive","score":0.8,"confidence":0.9,"mentioned_coins":["BTC","eth"]}`))
	require.NoError(t, err)
	assert.Equal(t, "n1", ev.ID)
	assert.Equal(t, domain.SentimentPositive, ev.Sentiment)
	assert.Equal(t, []string{"BTC", "eth"}, ev.MentionedCoins)

	ev, err = DecodeEvent([]byte(`{"id":42,"sentiment":"negative","sentiment_score":-0.5,"confidence":0.7,"mentioned_coins":"[\"SOL\"]"}`))
	require.NoError(t, err)
	assert.Equal(t, "42", ev.ID)
	assert.InDelta(t, -0.5, ev.Score, 1e-12)
	assert.Equal(t, []string{"SOL"}, ev.MentionedCoins)

	_, err = DecodeEvent([]byte(`{"sentiment":"bullish","score":0.5,"confidence":0.9}`))
	require.Error(t, err)
	_, err = DecodeEvent([]byte(`{"sentiment":"positive","score":1.5,"confidence":0.9}`))
	require.Error(t, err)
	_, err = DecodeEvent([]byte(`{"sentiment":"positive","score":0.5,"confidence":0.9,"mentioned_coins":"nope"}`))
	require.Error(t, err)
}

type fakeStream struct {
	mu      sync.Mutex
	entries []domain.StreamMessage
	lastIDs []string
}

func (f *fakeStream) Publish(context.Context, string, []byte) error { return nil }
func (f *fakeStream) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}
func (f *fakeStream) StreamAppend(context.Context, string, []byte) error { return nil }
func (f *fakeStream) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIDs = append(f.lastIDs, lastID)
	var out []domain.StreamMessage
	for _, e := range f.entries {
		if e.ID > lastID || lastID == "0" {
			out = append(out, e)
		}
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func TestStreamFeederPoll(t *testing.T) {
	bus := &fakeStream{entries: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"id":"a","sentiment":"positive","score":0.5,"confidence":0.9,"mentioned_coins":["BTC"]}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
		{ID: "3-0", Payload: []byte(`{"id":"c","sentiment":"neutral","score":0,"confidence":0.9}`)},
	}}
	q := NewQueue(10, BackpressureBlock)
	f := NewStreamFeeder(bus, q, StreamConfig{Stream: "news:scored", StartID: "0"}, discardLogger())

	n, err := f.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "3-0", f.LastID())
	assert.Equal(t, 2, q.Len())

	n, err = f.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"0", "3-0"}, bus.lastIDs)
}

func TestNewsWSFeedReceivesEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"w1","sentiment":"positive","score":0.6,"confidence":0.8,"mentioned_coins":["ETH"]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"w2","sentiment":"negative","score":-0.6,"confidence":0.8,"mentioned_coins":["BTC"]}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	q := NewQueue(10, BackpressureBlock)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewNewsWSFeed(url, nil, q, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-q.C():
			got = append(got, ev.ID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{"w1", "w2"}, got)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}
