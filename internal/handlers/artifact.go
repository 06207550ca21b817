package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/chunkflow/internal/models"
	"github.com/maneesh/chunkflow/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ArtifactCatalog is the persistent artifact record store.
type ArtifactCatalog interface {
	GetArtifact(ctx context.Context, artifactID string) (*models.Artifact, error)
}

// ArtifactCache is the metadata cache in front of the catalog. A nil result
// with nil error means cache miss.
type ArtifactCache interface {
	GetArtifactMetadata(ctx context.Context, artifactID string) (*models.Artifact, error)
	SetArtifactMetadata(ctx context.Context, artifactID string, artifact *models.Artifact) error
}

// ArtifactHandler serves reassembled artifact metadata with a cache-aside
// read path.
type ArtifactHandler struct {
	catalog ArtifactCatalog
	cache   ArtifactCache // optional
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(catalog ArtifactCatalog, cache ArtifactCache) *ArtifactHandler {
	return &ArtifactHandler{catalog: catalog, cache: cache}
}

// ServeHTTP handles GET /artifacts/{artifact_id}
func (ah *ArtifactHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "read_artifact",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	artifactID := mux.Vars(r)["artifact_id"]
	if artifactID == "" {
		writeError(w, http.StatusBadRequest, "missing artifact_id in path")
		return
	}

	span.SetAttributes(attribute.String("artifact_id", artifactID))

	artifact, err := ah.getArtifact(ctx, artifactID)
	if err != nil {
		if errors.Is(err, storage.ErrArtifactNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown artifact: %s", artifactID))
			return
		}
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read artifact: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, artifact)
}

func (ah *ArtifactHandler) getArtifact(ctx context.Context, artifactID string) (*models.Artifact, error) {
	if ah.cache != nil {
		artifact, err := ah.cache.GetArtifactMetadata(ctx, artifactID)
		if err != nil {
			log.Printf("Warning: artifact cache lookup failed: %v", err)
		} else if artifact != nil {
			return artifact, nil
		}
	}

	artifact, err := ah.catalog.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	if ah.cache != nil {
		if err := ah.cache.SetArtifactMetadata(ctx, artifactID, artifact); err != nil {
			log.Printf("Warning: failed to update artifact cache: %v", err)
		}
	}

	return artifact, nil
}
