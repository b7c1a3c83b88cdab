package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveKind names a table whose terminal rows move to cold storage. It is
// also the object key segment under archive/.
type ArchiveKind string

const (
	ArchiveKindPositions ArchiveKind = "positions"
	ArchiveKindOrders    ArchiveKind = "orders"
)

// BlobWriter stores archive objects. Callers switch to PutMultipart once a
// batch is large enough for a multipart upload.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	PutMultipart(ctx context.Context, key string, body io.Reader, partSize int64) error
}

// Archiver copies rows older than a cutoff to cold storage and removes them
// from the primary store after the upload succeeded. Each method returns the
// number of rows moved. Only closed or stopped positions are eligible.
type Archiver interface {
	ArchivePositions(ctx context.Context, before time.Time) (int64, error)
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
}
