package storage

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("chunkflow-storage")

// ErrArtifactNotFound is returned by the catalog for an unknown artifact ID.
var ErrArtifactNotFound = errors.New("artifact not found")

// ChunkStore is the durable staging area for chunks awaiting reassembly.
// Chunks are keyed by (uploadID, index); saving an existing key overwrites
// the prior bytes, so re-delivery of a chunk is safe.
type ChunkStore interface {
	SaveChunk(ctx context.Context, uploadID string, index int, data io.Reader, size int64) error
	OpenChunk(ctx context.Context, uploadID string, index int) (io.ReadCloser, error)
	DeleteChunks(ctx context.Context, uploadID string) error
}

// ArtifactStore persists reassembled files under their stored name.
type ArtifactStore interface {
	WriteArtifact(ctx context.Context, name string, data io.Reader) (int64, error)
}
