package storage

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinioStore stages chunks and writes artifacts in a MinIO bucket. Chunk
// objects are keyed chunks/<uploadID>/<index>, artifacts artifacts/<name>.
type MinioStore struct {
	client     *minio.Client
	bucketName string
}

// NewMinioStore initializes a MinIO-backed store and ensures the bucket exists
func NewMinioStore(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ms := &MinioStore{
		client:     client,
		bucketName: bucketName,
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Printf("Creating bucket: %s", bucketName)
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("Bucket %s created successfully", bucketName)
	}

	return ms, nil
}

func chunkObjectKey(uploadID string, index int) string {
	return fmt.Sprintf("chunks/%s/%d", uploadID, index)
}

// SaveChunk uploads one staged chunk, overwriting any prior object for the key
func (ms *MinioStore) SaveChunk(ctx context.Context, uploadID string, index int, data io.Reader, size int64) error {
	ctx, span := tracer.Start(ctx, "minio.save_chunk",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
			attribute.Int("chunk_index", index),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	_, err := ms.client.PutObject(ctx, ms.bucketName, chunkObjectKey(uploadID, index), data, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload chunk: %w", err)
	}

	return nil
}

// OpenChunk opens a staged chunk object for reading
func (ms *MinioStore) OpenChunk(ctx context.Context, uploadID string, index int) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "minio.open_chunk",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
			attribute.Int("chunk_index", index),
		),
	)
	defer span.End()

	object, err := ms.client.GetObject(ctx, ms.bucketName, chunkObjectKey(uploadID, index), minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get chunk object: %w", err)
	}
	return object, nil
}

// DeleteChunks removes all staged chunk objects for an upload
func (ms *MinioStore) DeleteChunks(ctx context.Context, uploadID string) error {
	ctx, span := tracer.Start(ctx, "minio.delete_chunks",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
		),
	)
	defer span.End()

	prefix := fmt.Sprintf("chunks/%s/", uploadID)
	for object := range ms.client.ListObjects(ctx, ms.bucketName, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			span.RecordError(object.Err)
			return fmt.Errorf("failed to list staged chunks: %w", object.Err)
		}
		if err := ms.client.RemoveObject(ctx, ms.bucketName, object.Key, minio.RemoveObjectOptions{}); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to delete chunk object %s: %w", object.Key, err)
		}
	}

	return nil
}

// WriteArtifact streams the assembled file to the bucket
func (ms *MinioStore) WriteArtifact(ctx context.Context, name string, data io.Reader) (int64, error) {
	ctx, span := tracer.Start(ctx, "minio.write_artifact",
		trace.WithAttributes(
			attribute.String("artifact_name", name),
		),
	)
	defer span.End()

	info, err := ms.client.PutObject(ctx, ms.bucketName, "artifacts/"+name, data, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to write artifact: %w", err)
	}

	span.SetAttributes(attribute.Int64("size_bytes", info.Size))
	return info.Size, nil
}
