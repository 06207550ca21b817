package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DiskStore stages chunks and writes artifacts on the local filesystem.
// Chunks live at <stagingDir>/<uploadID>/chunk_<index>, artifacts at
// <artifactDir>/<name>.
type DiskStore struct {
	stagingDir  string
	artifactDir string
}

// NewDiskStore initializes a disk store, creating both directories if absent
func NewDiskStore(stagingDir, artifactDir string) (*DiskStore, error) {
	for _, dir := range []string{stagingDir, artifactDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &DiskStore{
		stagingDir:  stagingDir,
		artifactDir: artifactDir,
	}, nil
}

func (ds *DiskStore) chunkPath(uploadID string, index int) string {
	return filepath.Join(ds.stagingDir, uploadID, fmt.Sprintf("chunk_%d", index))
}

// SaveChunk stages one chunk, overwriting any prior bytes for the same key
func (ds *DiskStore) SaveChunk(ctx context.Context, uploadID string, index int, data io.Reader, size int64) error {
	_, span := tracer.Start(ctx, "disk.save_chunk",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
			attribute.Int("chunk_index", index),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	dir := filepath.Join(ds.stagingDir, uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	f, err := os.Create(ds.chunkPath(uploadID, index))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		span.RecordError(err)
		return fmt.Errorf("failed to write chunk file: %w", err)
	}

	if err := f.Close(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to close chunk file: %w", err)
	}

	return nil
}

// OpenChunk opens a staged chunk for reading
func (ds *DiskStore) OpenChunk(ctx context.Context, uploadID string, index int) (io.ReadCloser, error) {
	_, span := tracer.Start(ctx, "disk.open_chunk",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
			attribute.Int("chunk_index", index),
		),
	)
	defer span.End()

	f, err := os.Open(ds.chunkPath(uploadID, index))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to open chunk %d for upload %s: %w", index, uploadID, err)
	}
	return f, nil
}

// DeleteChunks removes all staged chunks for an upload
func (ds *DiskStore) DeleteChunks(ctx context.Context, uploadID string) error {
	_, span := tracer.Start(ctx, "disk.delete_chunks",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
		),
	)
	defer span.End()

	if err := os.RemoveAll(filepath.Join(ds.stagingDir, uploadID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete staged chunks: %w", err)
	}
	return nil
}

// WriteArtifact streams the assembled file to the artifact directory. The
// write goes to a temp file first and is renamed into place, so a partial
// write never shadows a complete artifact.
func (ds *DiskStore) WriteArtifact(ctx context.Context, name string, data io.Reader) (int64, error) {
	_, span := tracer.Start(ctx, "disk.write_artifact",
		trace.WithAttributes(
			attribute.String("artifact_name", name),
		),
	)
	defer span.End()

	tmp, err := os.CreateTemp(ds.artifactDir, name+".partial-*")
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to create artifact temp file: %w", err)
	}

	written, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		span.RecordError(err)
		return 0, fmt.Errorf("failed to write artifact: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		span.RecordError(err)
		return 0, fmt.Errorf("failed to close artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(ds.artifactDir, name)); err != nil {
		os.Remove(tmp.Name())
		span.RecordError(err)
		return 0, fmt.Errorf("failed to finalize artifact: %w", err)
	}

	span.SetAttributes(attribute.Int64("size_bytes", written))
	return written, nil
}
