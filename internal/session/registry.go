package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/maneesh/chunkflow/internal/models"
	"github.com/maneesh/chunkflow/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chunkflow-session")

// ErrUnknownSession is returned by Status for an uploadID that was never
// created or has already completed and been purged.
var ErrUnknownSession = errors.New("unknown upload session")

// ErrInvalidMetadata is returned when a chunk's metadata is malformed.
var ErrInvalidMetadata = errors.New("invalid chunk metadata")

// ReassemblyError reports a failed reassembly. Staged chunks and session
// state are preserved for manual recovery.
type ReassemblyError struct {
	UploadID string
	Err      error
}

func (e *ReassemblyError) Error() string {
	return fmt.Sprintf("reassembly failed for upload %s: %v", e.UploadID, e.Err)
}

func (e *ReassemblyError) Unwrap() error {
	return e.Err
}

// ArtifactCatalog records completed artifacts (MySQL in production).
type ArtifactCatalog interface {
	CreateArtifact(ctx context.Context, artifact *models.Artifact) error
}

// SessionMirror snapshots session state externally (Redis in production)
// so in-flight uploads survive a server restart.
type SessionMirror interface {
	MirrorSessionState(ctx context.Context, uploadID string, state *storage.SessionState, ttl time.Duration) error
	GetSessionState(ctx context.Context, uploadID string) (*storage.SessionState, error)
	DropSessionState(ctx context.Context, uploadID string) error
}

// ChunkReceipt is the result of one chunk arrival.
type ChunkReceipt struct {
	Completed bool
	Artifact  *models.Artifact
}

// Status is the server-side view of one session's progress.
type Status struct {
	UploadID       string
	TotalChunks    int
	ReceivedChunks []int
	Progress       int
}

type session struct {
	mu       sync.Mutex
	info     models.UploadSession
	received map[int]struct{}
	done     bool
	artifact *models.Artifact
}

func (s *session) receivedIndices() []int {
	indices := make([]int, 0, len(s.received))
	for idx := range s.received {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// Registry is the concurrency-safe upload session table. All mutation and
// the completeness check for one uploadID happen under that session's lock,
// so reassembly runs at most once per session even when the last two chunks
// arrive concurrently.
type Registry struct {
	chunks    storage.ChunkStore
	artifacts storage.ArtifactStore
	catalog   ArtifactCatalog // optional
	mirror    SessionMirror   // optional
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures optional registry collaborators.
type Option func(*Registry)

// WithCatalog records completed artifacts in the given catalog.
func WithCatalog(catalog ArtifactCatalog) Option {
	return func(r *Registry) { r.catalog = catalog }
}

// WithMirror snapshots session state to the given mirror on every chunk.
func WithMirror(mirror SessionMirror) Option {
	return func(r *Registry) { r.mirror = mirror }
}

// WithClock overrides the registry's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a session registry over the given stores. Sessions
// idle longer than ttl are eligible for the janitor sweep.
func NewRegistry(chunks storage.ChunkStore, artifacts storage.ArtifactStore, ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{
		chunks:    chunks,
		artifacts: artifacts,
		ttl:       ttl,
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// getOrCreate returns the session for uploadID, creating it on first sight.
// The registry lock is released before the caller takes the session lock.
func (r *Registry) getOrCreate(meta models.ChunkMetadata, now time.Time) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[meta.UploadID]; ok {
		return sess
	}

	sess := &session{
		info: models.UploadSession{
			UploadID:     meta.UploadID,
			FileName:     meta.FileName,
			FileSize:     meta.FileSize,
			TotalChunks:  meta.TotalChunks,
			CreatedAt:    now,
			LastActivity: now,
		},
		received: make(map[int]struct{}),
	}
	r.sessions[meta.UploadID] = sess
	log.Printf("Created upload session %s (%s, %d chunks)", meta.UploadID, meta.FileName, meta.TotalChunks)
	return sess
}

func (r *Registry) remove(uploadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, uploadID)
}

// ReceiveChunk persists one chunk, marks it received and, when the received
// set reaches totalChunks, reassembles the file, purges the session and
// reports Completed. Re-delivery of an index overwrites the staged bytes
// without growing the received set.
func (r *Registry) ReceiveChunk(ctx context.Context, meta models.ChunkMetadata, chunk io.Reader) (*ChunkReceipt, error) {
	ctx, span := tracer.Start(ctx, "session.receive_chunk",
		trace.WithAttributes(
			attribute.String("upload_id", meta.UploadID),
			attribute.Int("chunk_index", meta.ChunkIndex),
			attribute.Int("total_chunks", meta.TotalChunks),
		),
	)
	defer span.End()

	if meta.UploadID == "" {
		return nil, fmt.Errorf("%w: missing uploadId", ErrInvalidMetadata)
	}
	if meta.TotalChunks <= 0 {
		return nil, fmt.Errorf("%w: totalChunks must be positive", ErrInvalidMetadata)
	}
	if meta.ChunkIndex < 0 || meta.ChunkIndex >= meta.TotalChunks {
		return nil, fmt.Errorf("%w: chunkIndex %d out of range [0,%d)", ErrInvalidMetadata, meta.ChunkIndex, meta.TotalChunks)
	}

	now := r.now()

	r.mu.Lock()
	sess, ok := r.sessions[meta.UploadID]
	r.mu.Unlock()
	if !ok {
		// A restarted server can pick an in-flight session back up from
		// the mirror before falling back to creating a fresh one.
		sess = r.rehydrate(ctx, meta.UploadID)
	}
	if sess == nil {
		sess = r.getOrCreate(meta, now)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// Lost the final-chunk race: the session completed while this request
	// waited on the lock. Its chunk is already part of the artifact.
	if sess.done {
		return &ChunkReceipt{Completed: true, Artifact: sess.artifact}, nil
	}

	if err := r.chunks.SaveChunk(ctx, meta.UploadID, meta.ChunkIndex, chunk, meta.ChunkSize); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to stage chunk %d: %w", meta.ChunkIndex, err)
	}

	sess.received[meta.ChunkIndex] = struct{}{}
	sess.info.LastActivity = now

	r.mirrorSession(ctx, sess)

	if len(sess.received) < sess.info.TotalChunks {
		span.SetAttributes(attribute.Int("received_count", len(sess.received)))
		return &ChunkReceipt{Completed: false}, nil
	}

	// Received set is complete: reassemble exactly once.
	artifact, err := r.assemble(ctx, sess)
	if err != nil {
		// Staged chunks and session state stay put for manual recovery.
		span.RecordError(err)
		return nil, &ReassemblyError{UploadID: meta.UploadID, Err: err}
	}

	if r.catalog != nil {
		if err := r.catalog.CreateArtifact(ctx, artifact); err != nil {
			log.Printf("Warning: failed to catalog artifact %s: %v", artifact.ID, err)
		}
	}

	if err := r.chunks.DeleteChunks(ctx, meta.UploadID); err != nil {
		log.Printf("Warning: failed to delete staged chunks for %s: %v", meta.UploadID, err)
	}
	if r.mirror != nil {
		if err := r.mirror.DropSessionState(ctx, meta.UploadID); err != nil {
			log.Printf("Warning: failed to drop session mirror for %s: %v", meta.UploadID, err)
		}
	}

	sess.done = true
	sess.artifact = artifact
	r.remove(meta.UploadID)

	log.Printf("Upload %s complete: artifact %s (%d bytes, %d chunks)",
		meta.UploadID, artifact.StoredName, artifact.Size, artifact.ChunkCount)
	span.SetAttributes(attribute.Bool("completed", true))

	return &ChunkReceipt{Completed: true, Artifact: artifact}, nil
}

// Status reports a session's progress. When the session is not in memory it
// falls back to the mirror and rehydrates, so status survives a restart as
// long as the staged chunks do.
func (r *Registry) Status(ctx context.Context, uploadID string) (*Status, error) {
	ctx, span := tracer.Start(ctx, "session.status",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
		),
	)
	defer span.End()

	r.mu.Lock()
	sess, ok := r.sessions[uploadID]
	r.mu.Unlock()

	if !ok {
		sess = r.rehydrate(ctx, uploadID)
		if sess == nil {
			return nil, ErrUnknownSession
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	received := sess.receivedIndices()
	return &Status{
		UploadID:       uploadID,
		TotalChunks:    sess.info.TotalChunks,
		ReceivedChunks: received,
		Progress:       len(received) * 100 / sess.info.TotalChunks,
	}, nil
}

// rehydrate restores a session from the mirror after a restart.
func (r *Registry) rehydrate(ctx context.Context, uploadID string) *session {
	if r.mirror == nil {
		return nil
	}

	state, err := r.mirror.GetSessionState(ctx, uploadID)
	if err != nil {
		log.Printf("Warning: failed to read session mirror for %s: %v", uploadID, err)
		return nil
	}
	if state == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another request may have rehydrated first.
	if sess, ok := r.sessions[uploadID]; ok {
		return sess
	}

	sess := &session{
		info:     state.Session,
		received: make(map[int]struct{}, len(state.Received)),
	}
	for _, idx := range state.Received {
		sess.received[idx] = struct{}{}
	}
	r.sessions[uploadID] = sess
	log.Printf("Rehydrated upload session %s from mirror (%d/%d chunks)",
		uploadID, len(state.Received), state.Session.TotalChunks)
	return sess
}

func (r *Registry) mirrorSession(ctx context.Context, sess *session) {
	if r.mirror == nil {
		return
	}
	state := &storage.SessionState{
		Session:  sess.info,
		Received: sess.receivedIndices(),
	}
	if err := r.mirror.MirrorSessionState(ctx, sess.info.UploadID, state, r.ttl); err != nil {
		log.Printf("Warning: failed to mirror session %s: %v", sess.info.UploadID, err)
	}
}

// Sweep removes sessions idle longer than the registry TTL along with their
// staged chunks. Returns the number of sessions removed.
func (r *Registry) Sweep(ctx context.Context) int {
	ctx, span := tracer.Start(ctx, "session.sweep")
	defer span.End()

	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var stale []*session
	for _, sess := range r.sessions {
		stale = append(stale, sess)
	}
	r.mu.Unlock()

	removed := 0
	for _, sess := range stale {
		sess.mu.Lock()
		expired := !sess.done && sess.info.LastActivity.Before(cutoff)
		if expired {
			sess.done = true
		}
		uploadID := sess.info.UploadID
		sess.mu.Unlock()

		if !expired {
			continue
		}

		r.remove(uploadID)
		if err := r.chunks.DeleteChunks(ctx, uploadID); err != nil {
			log.Printf("Warning: failed to delete staged chunks for expired session %s: %v", uploadID, err)
		}
		if r.mirror != nil {
			if err := r.mirror.DropSessionState(ctx, uploadID); err != nil {
				log.Printf("Warning: failed to drop mirror for expired session %s: %v", uploadID, err)
			}
		}
		log.Printf("Expired idle upload session %s", uploadID)
		removed++
	}

	span.SetAttributes(attribute.Int("sessions_removed", removed))
	return removed
}

// RunJanitor sweeps idle sessions on the given interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
