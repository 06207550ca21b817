package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidChunkSize is returned for a non-positive chunk size.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Range describes one chunk's byte span within the source file.
type Range struct {
	Index  int
	Offset int64
	Length int64
}

// TotalChunks returns the number of chunks needed to cover fileSize bytes,
// computed as the ceiling of fileSize/chunkSize. A zero fileSize yields
// zero chunks.
func TotalChunks(fileSize, chunkSize int64) (int, error) {
	if chunkSize <= 0 {
		return 0, ErrInvalidChunkSize
	}
	if fileSize <= 0 {
		return 0, nil
	}
	return int((fileSize + chunkSize - 1) / chunkSize), nil
}

// Plan computes the chunk boundaries for a file. The returned ranges cover
// the file exactly: offsets are contiguous and lengths sum to fileSize.
// The final range may be shorter than chunkSize but is never empty.
func Plan(fileSize, chunkSize int64) ([]Range, error) {
	total, err := TotalChunks(fileSize, chunkSize)
	if err != nil {
		return nil, err
	}

	ranges := make([]Range, 0, total)
	for i := 0; i < total; i++ {
		offset := int64(i) * chunkSize
		length := chunkSize
		if offset+length > fileSize {
			length = fileSize - offset
		}
		ranges = append(ranges, Range{
			Index:  i,
			Offset: offset,
			Length: length,
		})
	}

	return ranges, nil
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
