package session

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/chunkflow/internal/chunker"
	"github.com/maneesh/chunkflow/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// artifactNameLength is the hex prefix length of the stored artifact name.
const artifactNameLength = 16

// ArtifactName derives the stored name for a reassembled file: a SHA-256
// digest of the original name and the given time, truncated, with the
// original extension appended. The human-readable name is deliberately
// dropped from storage; the catalog keeps it.
func ArtifactName(originalName string, at time.Time) string {
	digest := chunker.ComputeHash([]byte(fmt.Sprintf("%s-%d", originalName, at.UnixNano())))
	return digest[:artifactNameLength] + filepath.Ext(originalName)
}

// assemble concatenates the session's staged chunks in ascending index
// order into a single artifact. Called with the session lock held and the
// received set complete. On failure nothing is deleted.
func (r *Registry) assemble(ctx context.Context, sess *session) (*models.Artifact, error) {
	ctx, span := tracer.Start(ctx, "session.reassemble",
		trace.WithAttributes(
			attribute.String("upload_id", sess.info.UploadID),
			attribute.Int("total_chunks", sess.info.TotalChunks),
		),
	)
	defer span.End()

	uploadID := sess.info.UploadID
	total := sess.info.TotalChunks

	readers := make([]io.Reader, 0, total)
	closers := make([]io.Closer, 0, total)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	for idx := 0; idx < total; idx++ {
		rc, err := r.chunks.OpenChunk(ctx, uploadID, idx)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to open chunk %d: %w", idx, err)
		}
		readers = append(readers, rc)
		closers = append(closers, rc)
	}

	now := r.now()
	storedName := ArtifactName(sess.info.FileName, now)

	written, err := r.artifacts.WriteArtifact(ctx, storedName, io.MultiReader(readers...))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to write artifact %s: %w", storedName, err)
	}

	if written != sess.info.FileSize {
		err := fmt.Errorf("artifact size mismatch: wrote %d bytes, expected %d", written, sess.info.FileSize)
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("artifact_name", storedName),
		attribute.Int64("size_bytes", written),
	)

	return &models.Artifact{
		ID:           uuid.New().String(),
		StoredName:   storedName,
		OriginalName: sess.info.FileName,
		Size:         written,
		ChunkCount:   total,
		CreatedAt:    now,
	}, nil
}
