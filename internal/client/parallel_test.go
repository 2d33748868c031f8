package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	ftErrors "github.com/AK1OS/file-transfer/internal/errors"
	"github.com/AK1OS/file-transfer/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChunksExamples(t *testing.T) {
	tests := []struct {
		name      string
		fileSize  int64
		threads   int
		wantSize  int64
		wantLast  int64
		wantCount int
	}{
		{"even split", 10_000_000, 4, 2_500_000, 2_500_000, 4},
		{"remainder on last", 10_000_001, 4, 2_500_000, 2_500_001, 4},
		{"single thread", 12345, 1, 12345, 12345, 1},
		{"more threads than bytes", 3, 5, 0, 3, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := PlanChunks(tt.fileSize, tt.threads)
			require.NoError(t, err)
			require.Len(t, tasks, tt.wantCount)
			assert.Equal(t, tt.wantSize, tasks[0].Length)
			assert.Equal(t, tt.wantLast, tasks[len(tasks)-1].Length)
		})
	}
}

func TestPlanChunksCoversFile(t *testing.T) {
	sizes := []int64{1, 2, 7, 100, 1023, 4096, 10_000_001, 1 << 31}
	for _, size := range sizes {
		for threads := 1; threads <= 16; threads++ {
			tasks, err := PlanChunks(size, threads)
			require.NoError(t, err)
			require.Len(t, tasks, threads)

			var next int64
			for i, task := range tasks {
				assert.Equal(t, i, task.Index)
				assert.Equal(t, next, task.StartPos, "size=%d threads=%d chunk=%d", size, threads, i)
				assert.GreaterOrEqual(t, task.Length, int64(0))
				next += task.Length
			}
			assert.Equal(t, size, next, "size=%d threads=%d", size, threads)
		}
	}
}

func TestPlanChunksRejectsInvalidInput(t *testing.T) {
	_, err := PlanChunks(0, 4)
	assert.True(t, errors.Is(err, ftErrors.ErrValidation))

	_, err = PlanChunks(100, 0)
	assert.True(t, errors.Is(err, ftErrors.ErrValidation))
}

func TestSendFileParallel(t *testing.T) {
	peer := newMockPeer(t)
	path, content := writeTestFile(t, t.TempDir(), "big.bin", 100_003)
	c, out := testClient(t, peer.port, nil)

	result, err := c.SendFileParallel(context.Background(), path, 4)
	require.NoError(t, err)
	peer.Close()

	assert.Equal(t, testSessionID, result.Session.SessionID)
	assert.Equal(t, int64(25_000), result.Session.ChunkSize)
	require.Len(t, result.Chunks, 4)

	controls := peer.Sessions(protocol.ModeParallel)
	require.Len(t, controls, 1)
	assert.Equal(t, int32(4), controls[0].threads)
	assert.Equal(t, "big.bin", controls[0].name)
	assert.Equal(t, int64(100_003), controls[0].size)

	chunks := peer.Sessions(0)
	require.Len(t, chunks, 4)

	assembled := make([]byte, len(content))
	seen := make(map[int32]bool)
	for _, s := range chunks {
		assert.Equal(t, testSessionID, s.chunk.SessionID)
		assert.False(t, seen[s.chunk.ChunkIndex])
		seen[s.chunk.ChunkIndex] = true
		copy(assembled[s.chunk.StartPos:], s.data)
	}
	assert.True(t, bytes.Equal(content, assembled))

	for i := 0; i < 4; i++ {
		assert.Contains(t, out.String(), fmt.Sprintf("Chunk %d complete", i))
	}
}

func TestSendFileParallelSingleChunkMatchesSequentialRange(t *testing.T) {
	peer := newMockPeer(t)
	path, content := writeTestFile(t, t.TempDir(), "one.bin", 5000)
	c, _ := testClient(t, peer.port, nil)

	_, err := c.SendFileParallel(context.Background(), path, 1)
	require.NoError(t, err)
	peer.Close()

	chunks := peer.Sessions(0)
	require.Len(t, chunks, 1)
	assert.Equal(t, int32(0), chunks[0].chunk.StartPos)
	assert.Equal(t, int32(5000), chunks[0].chunk.ChunkSize)
	assert.True(t, bytes.Equal(content, chunks[0].data))
}

func TestSendFileParallelOneChunkFails(t *testing.T) {
	peer := newMockPeer(t)
	peer.dropAck[2] = true

	path, _ := writeTestFile(t, t.TempDir(), "big.bin", 40_000)
	c, _ := testClient(t, peer.port, nil)

	result, err := c.SendFileParallel(context.Background(), path, 4)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ftErrors.ErrAggregateTransfer))

	var aggErr *ftErrors.AggregateTransferError
	require.True(t, errors.As(err, &aggErr))
	assert.Equal(t, []int{2}, aggErr.Failed)
	assert.Equal(t, 4, aggErr.Total)
	assert.True(t, errors.Is(aggErr.First, ftErrors.ErrProtocol))

	// The other workers still ran to completion
	peer.Close()
	assert.Len(t, peer.Sessions(0), 3)
}

func TestSendFileParallelValidation(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeTestFile(t, dir, "small.bin", 10)
	c, _ := testClient(t, 1, nil)

	for _, threads := range []int{0, 17, -1} {
		_, err := c.SendFileParallel(context.Background(), path, threads)
		assert.True(t, errors.Is(err, ftErrors.ErrValidation), "threads=%d", threads)
	}

	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err := c.SendFileParallel(context.Background(), empty, 4)
	assert.True(t, errors.Is(err, ftErrors.ErrFileSystem))

	_, err = c.SendFileParallel(context.Background(), dir, 4)
	assert.True(t, errors.Is(err, ftErrors.ErrFileSystem))
}

func TestSendFileParallelRejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparse.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxParallelFileSize+1))
	require.NoError(t, f.Close())

	c, _ := testClient(t, 1, nil)
	_, err = c.SendFileParallel(context.Background(), path, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ftErrors.ErrValidation))
}
