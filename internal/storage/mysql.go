package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/maneesh/chunkflow/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MySQLCatalog records reassembled artifacts with tracing
type MySQLCatalog struct {
	db *sql.DB
}

// NewMySQLCatalog initializes a new catalog client
func NewMySQLCatalog(dsn string) (*MySQLCatalog, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &MySQLCatalog{db: db}, nil
}

// Close closes the database connection
func (mc *MySQLCatalog) Close() error {
	return mc.db.Close()
}

// CreateArtifact inserts an artifact record with tracing
func (mc *MySQLCatalog) CreateArtifact(ctx context.Context, artifact *models.Artifact) error {
	ctx, span := tracer.Start(ctx, "mysql.create_artifact",
		trace.WithAttributes(
			attribute.String("artifact_id", artifact.ID),
			attribute.String("stored_name", artifact.StoredName),
			attribute.Int64("size_bytes", artifact.Size),
		),
	)
	defer span.End()

	query := `INSERT INTO artifacts (id, stored_name, original_name, size, chunk_count, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := mc.db.ExecContext(ctx, query,
		artifact.ID, artifact.StoredName, artifact.OriginalName, artifact.Size, artifact.ChunkCount, artifact.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert artifact: %w", err)
	}

	return nil
}

// GetArtifact retrieves an artifact record by ID with tracing
func (mc *MySQLCatalog) GetArtifact(ctx context.Context, artifactID string) (*models.Artifact, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_artifact",
		trace.WithAttributes(
			attribute.String("artifact_id", artifactID),
		),
	)
	defer span.End()

	query := `SELECT id, stored_name, original_name, size, chunk_count, created_at
			  FROM artifacts WHERE id = ?`

	var artifact models.Artifact
	err := mc.db.QueryRowContext(ctx, query, artifactID).Scan(
		&artifact.ID,
		&artifact.StoredName,
		&artifact.OriginalName,
		&artifact.Size,
		&artifact.ChunkCount,
		&artifact.CreatedAt,
	)

	if err == sql.ErrNoRows {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query artifact: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return &artifact, nil
}

// ListArtifacts retrieves the most recent artifact records with tracing
func (mc *MySQLCatalog) ListArtifacts(ctx context.Context, limit int) ([]*models.Artifact, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_artifacts",
		trace.WithAttributes(
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	query := `SELECT id, stored_name, original_name, size, chunk_count, created_at
			  FROM artifacts
			  ORDER BY created_at DESC
			  LIMIT ?`

	rows, err := mc.db.QueryContext(ctx, query, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		var artifact models.Artifact
		err := rows.Scan(
			&artifact.ID,
			&artifact.StoredName,
			&artifact.OriginalName,
			&artifact.Size,
			&artifact.ChunkCount,
			&artifact.CreatedAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, &artifact)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	span.SetAttributes(attribute.Int("artifact_count", len(artifacts)))
	return artifacts, nil
}
