package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/maneesh/chunkflow/internal/chunker"
	"github.com/maneesh/chunkflow/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chunkflow-uploader")

// ErrInvalidConfiguration is returned for a non-positive chunk size or
// retry count at construction.
var ErrInvalidConfiguration = errors.New("invalid uploader configuration")

// ErrEmptyFile is returned when asked to upload a zero-byte file.
var ErrEmptyFile = errors.New("file is empty")

// Result is the outcome of one transfer.
type Result struct {
	Success  bool
	UploadID string
	Message  string
}

// Uploader drives a chunked transfer: it plans chunk boundaries, sends each
// chunk strictly sequentially through the retry policy and reports progress
// to its observers. Only one chunk's bytes are resident at a time.
type Uploader struct {
	chunkSize int64
	retries   *retrier
	client    *http.Client

	onProgress      func(models.UploadProgress)
	onChunkComplete func(index int)
	onError         func(index int, err error)
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithHTTPClient overrides the HTTP client used for chunk requests.
func WithHTTPClient(client *http.Client) Option {
	return func(u *Uploader) { u.client = client }
}

// OnProgress registers the progress observer, invoked after every
// successfully delivered chunk.
func OnProgress(fn func(models.UploadProgress)) Option {
	return func(u *Uploader) { u.onProgress = fn }
}

// OnChunkComplete registers the chunk-complete observer.
func OnChunkComplete(fn func(index int)) Option {
	return func(u *Uploader) { u.onChunkComplete = fn }
}

// OnError registers the error observer, invoked with the failing chunk's
// index once its retries are exhausted.
func OnError(fn func(index int, err error)) Option {
	return func(u *Uploader) { u.onError = fn }
}

// New creates an Uploader sending chunkSize-byte pieces with up to
// maxRetries attempts per chunk.
func New(chunkSize int64, maxRetries int, opts ...Option) (*Uploader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrInvalidConfiguration, chunkSize)
	}
	if maxRetries <= 0 {
		return nil, fmt.Errorf("%w: max retries %d", ErrInvalidConfiguration, maxRetries)
	}

	u := &Uploader{
		chunkSize: chunkSize,
		retries:   newRetrier(maxRetries),
		client:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// CalculateTotalChunks exposes the chunk planner for callers that want to
// display chunk counts before starting a transfer.
func (u *Uploader) CalculateTotalChunks(fileSize int64) (int, error) {
	return chunker.TotalChunks(fileSize, u.chunkSize)
}

// UploadFile transfers the whole file to endpoint. A fresh uploadID is
// generated when none is supplied. The first chunk whose retries are
// exhausted aborts the transfer.
func (u *Uploader) UploadFile(ctx context.Context, endpoint string, file io.ReaderAt, fileSize int64, fileName, uploadID string) (*Result, error) {
	return u.transfer(ctx, endpoint, file, fileSize, fileName, uploadID, nil)
}

// ResumeUpload continues an interrupted transfer, skipping every chunk
// index the server has already acknowledged. Chunk size must match the
// original session or chunk indexing silently desynchronizes.
func (u *Uploader) ResumeUpload(ctx context.Context, endpoint string, file io.ReaderAt, fileSize int64, fileName, uploadID string, completed []int) (*Result, error) {
	if uploadID == "" {
		return nil, fmt.Errorf("%w: resume requires an uploadID", ErrInvalidConfiguration)
	}
	skip := make(map[int]struct{}, len(completed))
	for _, idx := range completed {
		skip[idx] = struct{}{}
	}
	return u.transfer(ctx, endpoint, file, fileSize, fileName, uploadID, skip)
}

func (u *Uploader) transfer(ctx context.Context, endpoint string, file io.ReaderAt, fileSize int64, fileName, uploadID string, skip map[int]struct{}) (*Result, error) {
	if fileSize <= 0 {
		return nil, ErrEmptyFile
	}
	if uploadID == "" {
		uploadID = uuid.New().String()
	}

	plan, err := chunker.Plan(fileSize, u.chunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	total := len(plan)

	ctx, span := tracer.Start(ctx, "upload_file",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
			attribute.String("file_name", fileName),
			attribute.Int64("file_size", fileSize),
			attribute.Int("total_chunks", total),
			attribute.Int("skipped_chunks", len(skip)),
		),
	)
	defer span.End()

	// Seed uploadedBytes with the exact byte count of the already-delivered
	// chunks, including a short final chunk.
	var uploadedBytes int64
	for _, rng := range plan {
		if _, ok := skip[rng.Index]; ok {
			uploadedBytes += rng.Length
		}
	}

	buf := make([]byte, u.chunkSize)
	for _, rng := range plan {
		if _, ok := skip[rng.Index]; ok {
			continue
		}

		chunk := buf[:rng.Length]
		// ReadAt may pair a full read of the final chunk with io.EOF.
		if n, err := file.ReadAt(chunk, rng.Offset); err != nil && !(err == io.EOF && int64(n) == rng.Length) {
			span.RecordError(err)
			return &Result{Success: false, UploadID: uploadID, Message: err.Error()},
				fmt.Errorf("failed to read chunk %d: %w", rng.Index, err)
		}

		meta := models.ChunkMetadata{
			ChunkIndex:  rng.Index,
			TotalChunks: total,
			FileName:    fileName,
			FileSize:    fileSize,
			ChunkSize:   rng.Length,
			UploadID:    uploadID,
		}

		err := u.retries.do(ctx, func() error {
			return u.sendChunk(ctx, endpoint, meta, chunk)
		})
		if err != nil {
			if u.onError != nil {
				u.onError(rng.Index, err)
			}
			span.RecordError(err)
			return &Result{Success: false, UploadID: uploadID, Message: err.Error()}, err
		}

		uploadedBytes += rng.Length
		if u.onChunkComplete != nil {
			u.onChunkComplete(rng.Index)
		}
		if u.onProgress != nil {
			u.onProgress(models.UploadProgress{
				UploadedBytes: uploadedBytes,
				TotalBytes:    fileSize,
				Percentage:    float64(uploadedBytes) / float64(fileSize) * 100,
				CurrentChunk:  rng.Index + 1,
				TotalChunks:   total,
			})
		}
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return &Result{
		Success:  true,
		UploadID: uploadID,
		Message:  fmt.Sprintf("uploaded %d bytes in %d chunks", fileSize, total),
	}, nil
}

// sendChunk performs one transmission attempt: a multipart POST carrying
// the chunk bytes and the JSON-encoded metadata.
func (u *Uploader) sendChunk(ctx context.Context, endpoint string, meta models.ChunkMetadata, chunk []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
		return fmt.Errorf("failed to write metadata field: %w", err)
	}

	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("%s.part%d", meta.FileName, meta.ChunkIndex))
	if err != nil {
		return fmt.Errorf("failed to create chunk field: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return fmt.Errorf("failed to write chunk bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("chunk %d request failed: %w", meta.ChunkIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chunk %d rejected with status %d: %s", meta.ChunkIndex, resp.StatusCode, bytes.TrimSpace(msg))
	}

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)
	return nil
}
