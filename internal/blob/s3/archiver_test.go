package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/domain"
	"github.com/alanyoungcy/sentibot/internal/store/memory"
)

type memWriter struct {
	objects map[string][]byte
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

func lines(b []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func TestArchivePositionsInBatches(t *testing.T) {
	ctx := context.Background()
	positions := memory.NewPositionStore()
	old := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		id := "p" + string(rune('0'+i))
		require.NoError(t, positions.Create(ctx, domain.Position{
			ID: id, Symbol: sym, Quantity: 1, EntryPrice: 10, Status: domain.PositionStatusOpen, OpenedAt: old,
		}))
		require.NoError(t, positions.Close(ctx, id, domain.PositionClose{
			Status: domain.PositionStatusClosed, ExitPrice: 11, RealizedPnL: 1, ClosedAt: old,
		}))
	}
	require.NoError(t, positions.Create(ctx, domain.Position{
		ID: "live", Symbol: "BTCUSDT", Quantity: 1, EntryPrice: 10, Status: domain.PositionStatusOpen, OpenedAt: old,
	}))

	w := &memWriter{objects: map[string][]byte{}}
	audit := memory.NewAuditStore()
	a := NewArchiver(w, positions, memory.NewOrderStore(), audit)
	a.batchSize = 2
	a.nowFn = func() time.Time { return time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC) }

	n, err := a.ArchivePositions(ctx, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.Len(t, w.objects, 2)
	first := w.objects["archive/positions/2024-02/20240501T030000Z-000.jsonl"]
	require.Len(t, lines(first), 2)
	var p domain.Position
	require.NoError(t, json.Unmarshal([]byte(lines(first)[0]), &p))
	assert.Equal(t, domain.PositionStatusClosed, p.Status)

	remaining, err := positions.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "live", remaining[0].ID)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestArchiveOrdersNothingToDo(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	a := NewArchiver(w, memory.NewPositionStore(), memory.NewOrderStore(), nil)
	n, err := a.ArchiveOrders(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://minio:9000", endpointURL("minio:9000", true))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	assert.True(t, strings.HasPrefix(endpointURL("https://s3.example.com", false), "https://"))
}
