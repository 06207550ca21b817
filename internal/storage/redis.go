package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maneesh/chunkflow/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CacheTTL is the time-to-live for cached artifact metadata (5 minutes)
	CacheTTL = 5 * time.Minute
)

// SessionState is the mirrored snapshot of one upload session, written to
// Redis on every chunk arrival so a restarted server can still answer
// status queries for in-flight uploads.
type SessionState struct {
	Session  models.UploadSession `json:"session"`
	Received []int                `json:"received"`
}

// RedisClient wraps Redis operations with tracing
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func artifactKey(artifactID string) string {
	return fmt.Sprintf("artifact:%s", artifactID)
}

func sessionKey(uploadID string) string {
	return fmt.Sprintf("upload:%s:state", uploadID)
}

// GetArtifactMetadata retrieves artifact metadata from cache with tracing
func (rc *RedisClient) GetArtifactMetadata(ctx context.Context, artifactID string) (*models.Artifact, error) {
	ctx, span := tracer.Start(ctx, "redis.get_artifact_metadata",
		trace.WithAttributes(
			attribute.String("artifact_id", artifactID),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, artifactKey(artifactID)).Result()

	if err == redis.Nil {
		span.SetAttributes(attribute.Bool("cache_hit", false))
		return nil, nil // Cache miss, not an error
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var artifact models.Artifact
	if err := json.Unmarshal([]byte(data), &artifact); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache_hit", true))
	return &artifact, nil
}

// SetArtifactMetadata stores artifact metadata in cache with tracing
func (rc *RedisClient) SetArtifactMetadata(ctx context.Context, artifactID string, artifact *models.Artifact) error {
	ctx, span := tracer.Start(ctx, "redis.set_artifact_metadata",
		trace.WithAttributes(
			attribute.String("artifact_id", artifactID),
		),
	)
	defer span.End()

	data, err := json.Marshal(artifact)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	err = rc.client.Set(ctx, artifactKey(artifactID), data, CacheTTL).Err()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// MirrorSessionState writes a session snapshot to Redis with tracing. The
// TTL matches the registry's idle expiry so abandoned mirrors age out.
func (rc *RedisClient) MirrorSessionState(ctx context.Context, uploadID string, state *SessionState, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "redis.mirror_session_state",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
			attribute.Int("received_count", len(state.Received)),
		),
	)
	defer span.End()

	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	err = rc.client.Set(ctx, sessionKey(uploadID), data, ttl).Err()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mirror session state: %w", err)
	}

	return nil
}

// GetSessionState retrieves a mirrored session snapshot with tracing
func (rc *RedisClient) GetSessionState(ctx context.Context, uploadID string) (*SessionState, error) {
	ctx, span := tracer.Start(ctx, "redis.get_session_state",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, sessionKey(uploadID)).Result()

	if err == redis.Nil {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil // No mirror, not an error
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return &state, nil
}

// DropSessionState removes a mirrored session snapshot with tracing
func (rc *RedisClient) DropSessionState(ctx context.Context, uploadID string) error {
	ctx, span := tracer.Start(ctx, "redis.drop_session_state",
		trace.WithAttributes(
			attribute.String("upload_id", uploadID),
		),
	)
	defer span.End()

	err := rc.client.Del(ctx, sessionKey(uploadID)).Err()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to drop session state: %w", err)
	}

	return nil
}
