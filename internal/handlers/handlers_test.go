package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/chunkflow/internal/models"
	"github.com/maneesh/chunkflow/internal/session"
	"github.com/maneesh/chunkflow/internal/storage"
	"github.com/maneesh/chunkflow/internal/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewDiskStore(filepath.Join(root, "staging"), filepath.Join(root, "artifacts"))
	require.NoError(t, err)

	registry := session.NewRegistry(store, store, time.Hour)

	router := mux.NewRouter()
	router.Handle("/upload", NewUploadHandler(registry)).Methods("POST")
	router.Handle("/status/{upload_id}", NewStatusHandler(registry)).Methods("GET")

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, root
}

// postChunk sends one chunk the way the client does: multipart form with
// "chunk" and "metadata" fields.
func postChunk(t *testing.T, url string, meta models.ChunkMetadata, data []byte) (*http.Response, models.UploadResponse) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaJSON, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("metadata", string(metaJSON)))

	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("part%d", meta.ChunkIndex))
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(url+"/upload", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed models.UploadResponse
	json.NewDecoder(resp.Body).Decode(&parsed)
	return resp, parsed
}

func TestUploadEndToEnd(t *testing.T) {
	srv, root := newTestServer(t)

	// 2,500,000 bytes with 1,000,000-byte chunks: 3 chunks sized
	// 1,000,000 / 1,000,000 / 500,000.
	data := make([]byte, 2_500_000)
	_, err := rand.New(rand.NewSource(7)).Read(data)
	require.NoError(t, err)

	up, err := uploader.New(1_000_000, 3)
	require.NoError(t, err)

	result, err := up.UploadFile(context.Background(), srv.URL+"/upload", bytes.NewReader(data), int64(len(data)), "movie.mp4", "")
	require.NoError(t, err)
	require.True(t, result.Success)

	// Exactly one artifact, byte-identical to the source, extension kept.
	entries, err := os.ReadDir(filepath.Join(root, "artifacts"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".mp4", filepath.Ext(entries[0].Name()))

	stored, err := os.ReadFile(filepath.Join(root, "artifacts", entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	// Session is purged after completion.
	resp, err := http.Get(srv.URL + "/status/" + result.UploadID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadChunkResponses(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := bytes.Repeat([]byte("x"), 100)
	meta := models.ChunkMetadata{
		UploadID:    "resp-test",
		FileName:    "f.bin",
		FileSize:    200,
		TotalChunks: 2,
		ChunkSize:   100,
	}

	meta.ChunkIndex = 0
	resp, parsed := postChunk(t, srv.URL, meta, payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, parsed.Success)
	assert.Equal(t, "resp-test", parsed.UploadID)
	assert.Contains(t, parsed.Message, "Chunk 1 of 2 received")

	meta.ChunkIndex = 1
	resp, parsed = postChunk(t, srv.URL, meta, payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, parsed.Success)
	assert.Contains(t, parsed.Message, "Upload complete")
}

func TestStatusScenario(t *testing.T) {
	srv, _ := newTestServer(t)

	// 2 of 5 chunks received.
	payload := bytes.Repeat([]byte("s"), 10)
	for _, idx := range []int{1, 4} {
		postChunk(t, srv.URL, models.ChunkMetadata{
			UploadID:    "status-test",
			FileName:    "f.bin",
			FileSize:    50,
			TotalChunks: 5,
			ChunkIndex:  idx,
			ChunkSize:   10,
		}, payload)
	}

	resp, err := http.Get(srv.URL + "/status/status-test")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status models.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Success)
	assert.Equal(t, "status-test", status.UploadID)
	assert.Equal(t, 5, status.TotalChunks)
	assert.Equal(t, []int{1, 4}, status.ReceivedChunks)
	assert.Equal(t, 40, status.Progress)
}

func TestStatusUnknownSessionReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/status/no-such-upload")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Message, "no-such-upload")
}

func TestUploadRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("missing metadata", func(t *testing.T) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("chunk", "part0")
		require.NoError(t, err)
		part.Write([]byte("data"))
		require.NoError(t, writer.Close())

		resp, err := http.Post(srv.URL+"/upload", writer.FormDataContentType(), &body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed metadata JSON", func(t *testing.T) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		require.NoError(t, writer.WriteField("metadata", "{not json"))
		part, err := writer.CreateFormFile("chunk", "part0")
		require.NoError(t, err)
		part.Write([]byte("data"))
		require.NoError(t, writer.Close())

		resp, err := http.Post(srv.URL+"/upload", writer.FormDataContentType(), &body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("chunk index out of range", func(t *testing.T) {
		resp, parsed := postChunk(t, srv.URL, models.ChunkMetadata{
			UploadID:    "bad-idx",
			FileName:    "f.bin",
			FileSize:    10,
			TotalChunks: 2,
			ChunkIndex:  7,
			ChunkSize:   10,
		}, []byte("data"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.False(t, parsed.Success)
	})
}

func TestResumeEndToEnd(t *testing.T) {
	srv, root := newTestServer(t)

	data := make([]byte, 2_500_000)
	_, err := rand.New(rand.NewSource(99)).Read(data)
	require.NoError(t, err)

	// First pass delivers chunks 0 and 2 directly, simulating an
	// interrupted transfer.
	for _, idx := range []int{0, 2} {
		length := 1_000_000
		if idx == 2 {
			length = 500_000
		}
		postChunk(t, srv.URL, models.ChunkMetadata{
			UploadID:    "resume-e2e",
			FileName:    "backup.tar",
			FileSize:    int64(len(data)),
			TotalChunks: 3,
			ChunkIndex:  idx,
			ChunkSize:   int64(length),
		}, data[idx*1_000_000:idx*1_000_000+length])
	}

	// Resume fills in the gap; the artifact must be byte-identical to a
	// single-pass upload.
	up, err := uploader.New(1_000_000, 3)
	require.NoError(t, err)

	result, err := up.ResumeUpload(context.Background(), srv.URL+"/upload", bytes.NewReader(data), int64(len(data)), "backup.tar", "resume-e2e", []int{0, 2})
	require.NoError(t, err)
	require.True(t, result.Success)

	entries, err := os.ReadDir(filepath.Join(root, "artifacts"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	stored, err := os.ReadFile(filepath.Join(root, "artifacts", entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

// fakeCatalog and fakeCache exercise the artifact read path without MySQL
// or Redis.
type fakeCatalog struct {
	artifacts map[string]*models.Artifact
	queries   int
}

func (fc *fakeCatalog) GetArtifact(_ context.Context, id string) (*models.Artifact, error) {
	fc.queries++
	if a, ok := fc.artifacts[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrArtifactNotFound, id)
}

type fakeCache struct {
	entries map[string]*models.Artifact
}

func (fc *fakeCache) GetArtifactMetadata(_ context.Context, id string) (*models.Artifact, error) {
	return fc.entries[id], nil
}

func (fc *fakeCache) SetArtifactMetadata(_ context.Context, id string, a *models.Artifact) error {
	fc.entries[id] = a
	return nil
}

func TestArtifactHandlerCacheAside(t *testing.T) {
	artifact := &models.Artifact{
		ID:           "art-1",
		StoredName:   "deadbeefdeadbeef.pdf",
		OriginalName: "report.pdf",
		Size:         1234,
		ChunkCount:   2,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	catalog := &fakeCatalog{artifacts: map[string]*models.Artifact{"art-1": artifact}}
	cache := &fakeCache{entries: make(map[string]*models.Artifact)}

	router := mux.NewRouter()
	router.Handle("/artifacts/{artifact_id}", NewArtifactHandler(catalog, cache)).Methods("GET")
	srv := httptest.NewServer(router)
	defer srv.Close()

	// First read misses the cache and hits the catalog.
	resp, err := http.Get(srv.URL + "/artifacts/art-1")
	require.NoError(t, err)
	var got models.Artifact
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, artifact.ID, got.ID)
	assert.Equal(t, artifact.StoredName, got.StoredName)
	assert.Equal(t, 1, catalog.queries)

	// Second read is served from cache.
	resp, err = http.Get(srv.URL + "/artifacts/art-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, catalog.queries, "second read must not hit the catalog")

	// Unknown artifact is a 404.
	resp, err = http.Get(srv.URL + "/artifacts/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
