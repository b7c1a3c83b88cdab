package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

const (
	defaultBatchSize = 500
	ndjson           = "application/x-ndjson"

	// Batches at or above multipartThreshold bytes go through the multipart
	// uploader.
	multipartThreshold = 8 << 20
	multipartPartSize  = 8 << 20
)

// PositionArchiveStore is the subset of the position store the archiver uses.
type PositionArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Position, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// OrderArchiveStore is the subset of the order store the archiver uses.
type OrderArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// ArchiveImpl implements domain.Archiver. Rows older than the cutoff are
// written to S3 as JSONL in batches, and each batch is deleted from the
// primary store only after its upload succeeded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	positions PositionArchiveStore
	orders    OrderArchiveStore
	audit     domain.AuditStore
	batchSize int
	nowFn     func() time.Time
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	positions PositionArchiveStore,
	orders OrderArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		positions: positions,
		orders:    orders,
		audit:     audit,
		batchSize: defaultBatchSize,
		nowFn:     time.Now,
	}
}

// ArchivePositions moves closed and stopped positions that ended before the
// cutoff to archive/positions/.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	return archiveBatches(ctx, a, domain.ArchiveKindPositions, before,
		func(ctx context.Context) ([]domain.Position, error) {
			return a.positions.ListClosedBefore(ctx, before, a.batchSize)
		},
		func(p domain.Position) string { return p.ID },
		a.positions.DeleteByIDs,
	)
}

// ArchiveOrders moves orders created before the cutoff to archive/orders/.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	return archiveBatches(ctx, a, domain.ArchiveKindOrders, before,
		func(ctx context.Context) ([]domain.Order, error) {
			return a.orders.ListBefore(ctx, before, a.batchSize)
		},
		func(o domain.Order) string { return o.ID },
		a.orders.DeleteByIDs,
	)
}

func archiveBatches[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind domain.ArchiveKind,
	before time.Time,
	list func(context.Context) ([]T, error),
	idOf func(T) string,
	remove func(context.Context, []string) (int64, error),
) (int64, error) {
	var total int64
	runAt := a.nowFn().UTC()

	for batch := 0; ; batch++ {
		rows, err := list(ctx)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
		}
		if len(rows) == 0 {
			break
		}

		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		path := archivePath(kind, before, runAt, batch)
		if err := a.upload(ctx, path, buf); err != nil {
			return total, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}

		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = idOf(r)
		}
		deleted, err := remove(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
		}
		total += deleted

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive."+string(kind), map[string]any{
				"path":   path,
				"count":  len(rows),
				"before": before.Format(time.RFC3339),
			}); err != nil {
				return total, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
			}
		}

		if len(rows) < a.batchSize || deleted == 0 {
			break
		}
	}
	return total, nil
}

// archivePath builds the object key for one batch, partitioned by the
// cutoff month:
//
//	archive/positions/2025-01/20250201T030000Z-000.jsonl
func archivePath(kind domain.ArchiveKind, before, runAt time.Time, batch int) string {
	return fmt.Sprintf("archive/%s/%s/%s-%03d.jsonl",
		kind, before.UTC().Format("2006-01"), runAt.Format("20060102T150405Z"), batch)
}

// marshalJSONL encodes rows one JSON document per line.
func marshalJSONL[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), ndjson)
}
