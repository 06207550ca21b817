package models

import "time"

// UploadSession tracks one in-flight transfer on the server, from the first
// chunk arrival to reassembly.
type UploadSession struct {
	UploadID     string    `json:"upload_id"`
	FileName     string    `json:"file_name"`
	FileSize     int64     `json:"file_size"`
	TotalChunks  int       `json:"total_chunks"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ChunkMetadata is the per-chunk envelope sent alongside the chunk bytes.
// ChunkSize is the actual byte length of this chunk, which may be smaller
// than the nominal chunk size for the final piece.
type ChunkMetadata struct {
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ChunkSize   int64  `json:"chunkSize"`
	UploadID    string `json:"uploadId"`
}

// UploadProgress is emitted to the client-side progress observer after each
// successful chunk. CurrentChunk is 1-based.
type UploadProgress struct {
	UploadedBytes int64   `json:"uploaded_bytes"`
	TotalBytes    int64   `json:"total_bytes"`
	Percentage    float64 `json:"percentage"`
	CurrentChunk  int     `json:"current_chunk"`
	TotalChunks   int     `json:"total_chunks"`
}

// Artifact is the catalog record for a reassembled file.
type Artifact struct {
	ID           string    `json:"id"`
	StoredName   string    `json:"stored_name"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	ChunkCount   int       `json:"chunk_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// UploadResponse is the JSON body returned by POST /upload.
type UploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	UploadID string `json:"uploadId"`
}

// StatusResponse is the JSON body returned by GET /status/{upload_id}.
type StatusResponse struct {
	Success        bool   `json:"success"`
	UploadID       string `json:"uploadId"`
	TotalChunks    int    `json:"totalChunks"`
	ReceivedChunks []int  `json:"receivedChunks"`
	Progress       int    `json:"progress"`
}

// ErrorResponse is the JSON body returned on any failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
