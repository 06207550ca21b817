package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalChunks(t *testing.T) {
	cases := []struct {
		name      string
		fileSize  int64
		chunkSize int64
		want      int
	}{
		{"exact multiple", 2_000_000, 1_000_000, 2},
		{"with remainder", 2_500_000, 1_000_000, 3},
		{"single partial chunk", 1, 1_000_000, 1},
		{"chunk equals file", 1024, 1024, 1},
		{"one over boundary", 1025, 1024, 2},
		{"empty file", 0, 1024, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TotalChunks(tc.fileSize, tc.chunkSize)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTotalChunksInvalidChunkSize(t *testing.T) {
	for _, chunkSize := range []int64{0, -1, -1024} {
		_, err := TotalChunks(100, chunkSize)
		assert.ErrorIs(t, err, ErrInvalidChunkSize)
	}
}

func TestPlanCoversFileExactly(t *testing.T) {
	cases := []struct {
		fileSize  int64
		chunkSize int64
	}{
		{2_500_000, 1_000_000},
		{1, 1},
		{7, 3},
		{1024 * 1024, 4096},
		{999, 1000},
	}

	for _, tc := range cases {
		plan, err := Plan(tc.fileSize, tc.chunkSize)
		require.NoError(t, err)

		var sum int64
		var nextOffset int64
		for i, rng := range plan {
			assert.Equal(t, i, rng.Index)
			assert.Equal(t, nextOffset, rng.Offset, "offsets must be contiguous")
			assert.Greater(t, rng.Length, int64(0), "no empty chunks")
			if i < len(plan)-1 {
				assert.Equal(t, tc.chunkSize, rng.Length, "only the final chunk may be short")
			}
			sum += rng.Length
			nextOffset += rng.Length
		}
		assert.Equal(t, tc.fileSize, sum, "plan must cover the file exactly")
	}
}

func TestPlanFinalChunkLength(t *testing.T) {
	plan, err := Plan(2_500_000, 1_000_000)
	require.NoError(t, err)
	require.Len(t, plan, 3)

	assert.Equal(t, int64(1_000_000), plan[0].Length)
	assert.Equal(t, int64(1_000_000), plan[1].Length)
	assert.Equal(t, int64(500_000), plan[2].Length)
}

func TestPlanEmptyFile(t *testing.T) {
	plan, err := Plan(0, 1024)
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestComputeHash(t *testing.T) {
	h1 := ComputeHash([]byte("hello"))
	h2 := ComputeHash([]byte("hello"))
	h3 := ComputeHash([]byte("world"))

	assert.Len(t, h1, 64)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}
