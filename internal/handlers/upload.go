package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/maneesh/chunkflow/internal/models"
	"github.com/maneesh/chunkflow/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chunkflow-handlers")

// maxChunkMemory bounds the multipart form memory before spilling to disk.
const maxChunkMemory = 32 << 20

// UploadHandler receives one chunk per request and feeds it to the session
// registry.
type UploadHandler struct {
	registry *session.Registry
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(registry *session.Registry) *UploadHandler {
	return &UploadHandler{registry: registry}
}

// ServeHTTP handles POST /upload with multipart fields "chunk" and "metadata"
func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "receive_chunk",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	if err := r.ParseMultipartForm(maxChunkMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}

	metaField := r.FormValue("metadata")
	if metaField == "" {
		writeError(w, http.StatusBadRequest, "missing 'metadata' form field")
		return
	}

	var meta models.ChunkMetadata
	if err := json.Unmarshal([]byte(metaField), &meta); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed metadata: %v", err))
		return
	}

	chunk, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'chunk' form field")
		return
	}
	defer chunk.Close()

	span.SetAttributes(
		attribute.String("upload_id", meta.UploadID),
		attribute.Int("chunk_index", meta.ChunkIndex),
		attribute.Int("total_chunks", meta.TotalChunks),
	)

	receipt, err := uh.registry.ReceiveChunk(ctx, meta, chunk)
	if err != nil {
		span.RecordError(err)

		var reassemblyErr *session.ReassemblyError
		switch {
		case errors.Is(err, session.ErrInvalidMetadata):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &reassemblyErr):
			// Staged chunks are preserved; the failure is scoped to this
			// session and the server stays up.
			log.Printf("Reassembly failed for upload %s: %v", meta.UploadID, err)
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store chunk: %v", err))
		}
		return
	}

	message := fmt.Sprintf("Chunk %d of %d received", meta.ChunkIndex+1, meta.TotalChunks)
	if receipt.Completed && receipt.Artifact != nil {
		message = fmt.Sprintf("Upload complete: stored as %s", receipt.Artifact.StoredName)
	}

	writeJSON(w, http.StatusOK, models.UploadResponse{
		Success:  true,
		Message:  message,
		UploadID: meta.UploadID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Success: false, Message: message})
}
