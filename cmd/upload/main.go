package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/maneesh/chunkflow/internal/models"
	"github.com/maneesh/chunkflow/internal/uploader"
)

func main() {
	var (
		filePath  = flag.String("file", "", "path of the file to upload")
		serverURL = flag.String("server", "http://localhost:8080", "base URL of the chunkflow server")
		chunkSize = flag.Int64("chunk-size", 1024*1024, "chunk size in bytes")
		retries   = flag.Int("retries", 3, "max attempts per chunk")
		resumeID  = flag.String("resume", "", "upload ID to resume; the server is asked which chunks it already has")
	)
	flag.Parse()

	if *filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	file, err := os.Open(*filePath)
	if err != nil {
		log.Fatalf("Failed to open file: %v", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		log.Fatalf("Failed to stat file: %v", err)
	}

	up, err := uploader.New(*chunkSize, *retries,
		uploader.OnProgress(func(p models.UploadProgress) {
			log.Printf("Progress: %.1f%% (chunk %d/%d, %d/%d bytes)",
				p.Percentage, p.CurrentChunk, p.TotalChunks, p.UploadedBytes, p.TotalBytes)
		}),
		uploader.OnError(func(index int, err error) {
			log.Printf("Chunk %d failed permanently: %v", index, err)
		}),
	)
	if err != nil {
		log.Fatalf("Failed to configure uploader: %v", err)
	}

	total, err := up.CalculateTotalChunks(info.Size())
	if err != nil {
		log.Fatalf("Failed to plan chunks: %v", err)
	}
	name := filepath.Base(*filePath)
	log.Printf("Uploading %s (%d bytes, %d chunks of %d bytes)", name, info.Size(), total, *chunkSize)

	ctx := context.Background()
	endpoint := *serverURL + "/upload"

	var result *uploader.Result
	if *resumeID != "" {
		completed, err := fetchReceivedChunks(*serverURL, *resumeID)
		if err != nil {
			log.Fatalf("Failed to query resume state: %v", err)
		}
		log.Printf("Resuming upload %s: server already has %d chunks", *resumeID, len(completed))
		result, err = up.ResumeUpload(ctx, endpoint, file, info.Size(), name, *resumeID, completed)
		if err != nil {
			log.Fatalf("Resume failed: %v", err)
		}
	} else {
		result, err = up.UploadFile(ctx, endpoint, file, info.Size(), name, "")
		if err != nil {
			log.Fatalf("Upload failed: %v", err)
		}
	}

	log.Printf("Done: %s (upload ID %s)", result.Message, result.UploadID)
}

// fetchReceivedChunks asks the server which chunk indices it already holds
// for an in-flight upload session.
func fetchReceivedChunks(serverURL, uploadID string) ([]int, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(fmt.Sprintf("%s/status/%s", serverURL, uploadID))
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown session: nothing delivered yet, start from chunk zero.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request returned %d", resp.StatusCode)
	}

	var status models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return status.ReceivedChunks, nil
}
