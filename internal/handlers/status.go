package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/chunkflow/internal/models"
	"github.com/maneesh/chunkflow/internal/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StatusHandler reports upload session progress
type StatusHandler struct {
	registry *session.Registry
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(registry *session.Registry) *StatusHandler {
	return &StatusHandler{registry: registry}
}

// ServeHTTP handles GET /status/{upload_id}
func (sh *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "upload_status",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	uploadID := mux.Vars(r)["upload_id"]
	if uploadID == "" {
		writeError(w, http.StatusBadRequest, "missing upload_id in path")
		return
	}

	span.SetAttributes(attribute.String("upload_id", uploadID))

	status, err := sh.registry.Status(ctx, uploadID)
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown upload session: %s", uploadID))
			return
		}
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query session: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{
		Success:        true,
		UploadID:       status.UploadID,
		TotalChunks:    status.TotalChunks,
		ReceivedChunks: status.ReceivedChunks,
		Progress:       status.Progress,
	})
}
