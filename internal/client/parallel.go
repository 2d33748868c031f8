package client

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/AK1OS/file-transfer/internal/config"
	"github.com/AK1OS/file-transfer/internal/errors"
	"github.com/AK1OS/file-transfer/internal/filesystem"
	"github.com/AK1OS/file-transfer/internal/logging"
	"github.com/AK1OS/file-transfer/internal/progress"
	"github.com/AK1OS/file-transfer/internal/protocol"
)

// MaxParallelFileSize is the largest file the parallel mode can describe:
// chunk offsets and lengths travel as 4-byte fields.
const MaxParallelFileSize = math.MaxInt32

// TransferSession is the server-assigned context of one parallel transfer
type TransferSession struct {
	SessionID  int32
	NumThreads int
	FileSize   int64
	ChunkSize  int64
}

// ChunkTask is the byte range [StartPos, StartPos+Length) sent by one worker
type ChunkTask struct {
	Index    int
	StartPos int64
	Length   int64
}

// ChunkResult is what a worker reports back to the coordinator
type ChunkResult struct {
	Index int
	Sent  int64
	Err   error
}

// ParallelResult describes a finished parallel transfer
type ParallelResult struct {
	Session  TransferSession
	Chunks   []ChunkTask
	Duration time.Duration
}

// PlanChunks splits [0, fileSize) into numThreads ranges. Every range has
// fileSize/numThreads bytes except the last, which absorbs the remainder.
func PlanChunks(fileSize int64, numThreads int) ([]ChunkTask, error) {
	if fileSize <= 0 {
		return nil, errors.NewValidationError("file_size", fileSize, "file size must be positive")
	}
	if numThreads < 1 {
		return nil, errors.NewValidationError("threads", numThreads, "at least one thread is required")
	}

	chunkSize := fileSize / int64(numThreads)
	tasks := make([]ChunkTask, numThreads)
	for i := range tasks {
		tasks[i] = ChunkTask{
			Index:    i,
			StartPos: int64(i) * chunkSize,
			Length:   chunkSize,
		}
	}
	tasks[numThreads-1].Length = fileSize - chunkSize*int64(numThreads-1)
	return tasks, nil
}

// SendFileParallel negotiates a session and sends the file as numThreads
// chunks, each over its own connection. The transfer succeeds only when
// every chunk is acknowledged.
func (c *Client) SendFileParallel(ctx context.Context, filePath string, numThreads int) (*ParallelResult, error) {
	logger := c.logger(config.ModeParallel)
	startTime := time.Now()

	if numThreads < config.MinThreads || numThreads > config.MaxThreads {
		return nil, errors.NewValidationError("threads", numThreads, "thread count out of range")
	}

	info, err := filesystem.RequireNonEmptyFile(filePath)
	if err != nil {
		return nil, err
	}
	if info.Size > MaxParallelFileSize {
		return nil, errors.NewValidationError("file_size", info.Size, "file too large for parallel mode")
	}

	attrs, err := filesystem.GetFileAttributes(filePath)
	if err != nil {
		return nil, err
	}
	logging.LogFileAttributes(logger, filePath, attrs, info.Size)
	c.console.Println("%s", filesystem.FormatAttributes(filePath, attrs, info.Size))

	session, err := c.negotiateSession(ctx, numThreads, attrs, info)
	if err != nil {
		return nil, err
	}

	tasks, err := PlanChunks(info.Size, numThreads)
	if err != nil {
		return nil, err
	}
	session.ChunkSize = tasks[0].Length

	logger = logger.With("session_id", session.SessionID)
	logging.LogSessionStart(logger, config.ModeParallel, info.Size, numThreads)
	c.console.Println("Session %d: %d chunks of ~%d KB", session.SessionID, numThreads, session.ChunkSize/1024)

	stats := progress.NewStats(info.Name, info.Size, numThreads)
	stats.StartTime = startTime

	results := make(chan ChunkResult, numThreads)
	for _, task := range tasks {
		go func(task ChunkTask) {
			results <- c.sendChunk(ctx, session, task, filePath, stats, logger)
		}(task)
	}

	failed, firstErr := c.coordinate(results, numThreads, stats)

	duration := time.Since(startTime)
	if firstErr != nil {
		logging.LogSessionEnd(logger, false, stats.Sent(), duration)
		return nil, errors.NewAggregateTransferError(failed, numThreads, firstErr)
	}

	logging.LogSessionEnd(logger, true, stats.Sent(), duration)
	c.logDigest(logger, filePath)

	return &ParallelResult{
		Session:  session,
		Chunks:   tasks,
		Duration: duration,
	}, nil
}

// negotiateSession runs the control exchange and returns the session the
// server assigned. The control connection is not reused.
func (c *Client) negotiateSession(ctx context.Context, numThreads int, attrs protocol.FileAttributes, info *filesystem.FileInfo) (TransferSession, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return TransferSession{}, err
	}
	defer conn.Close()

	if err := protocol.SendParallelControl(conn, int32(numThreads), attrs, info.Name, info.Size); err != nil {
		return TransferSession{}, err
	}

	sessionID, err := protocol.ReadInt32(conn)
	if err != nil {
		return TransferSession{}, errors.NewProtocolError("read_session_id", "server did not assign a session", err)
	}

	return TransferSession{
		SessionID:  sessionID,
		NumThreads: numThreads,
		FileSize:   info.Size,
	}, nil
}

// coordinate renders progress until every worker succeeded or one failed,
// then waits for all remaining workers. Workers are never cancelled.
func (c *Client) coordinate(results <-chan ChunkResult, numThreads int, stats *progress.Stats) ([]int, error) {
	reporter := progress.NewReporter(stats, c.console, c.cfg.ProgressInterval, c.cfg.ShowProgress)
	ticker := time.NewTicker(reporter.Interval())
	defer ticker.Stop()

	var (
		failed   []int
		firstErr error
		received int
	)

wait:
	for received < numThreads {
		select {
		case res := <-results:
			received++
			if res.Err != nil {
				failed = append(failed, res.Index)
				firstErr = res.Err
				break wait
			}
		case <-ticker.C:
			reporter.Render()
		}
	}
	reporter.Stop()

	for ; received < numThreads; received++ {
		if res := <-results; res.Err != nil {
			failed = append(failed, res.Index)
		}
	}

	return failed, firstErr
}

// sendChunk is one worker: its own connection, its own file handle.
func (c *Client) sendChunk(ctx context.Context, session TransferSession, task ChunkTask, filePath string,
	stats *progress.Stats, logger *slog.Logger) ChunkResult {

	result := ChunkResult{Index: task.Index}

	fail := func(err error) ChunkResult {
		result.Err = err
		c.console.Println("Chunk %d failed: %v", task.Index, err)
		logger.Warn("Chunk failed", "chunk_index", task.Index, "sent", result.Sent, "error", err)
		return result
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	header := protocol.ChunkHeader{
		SessionID:  session.SessionID,
		ChunkIndex: int32(task.Index),
		StartPos:   int32(task.StartPos),
		ChunkSize:  int32(task.Length),
	}
	if err := protocol.SendChunkHeader(conn, header); err != nil {
		return fail(err)
	}

	file, err := openAt(filePath, task.StartPos)
	if err != nil {
		return fail(err)
	}
	defer file.Close()

	buf := c.getBuffer()
	result.Sent, err = streamRange(conn, file, task.Length, *buf, stats, filePath)
	c.putBuffer(buf)
	if err != nil {
		return fail(err)
	}

	if _, err := protocol.ReadAck(conn); err != nil {
		return fail(err)
	}
	conn.Close()

	stats.CompleteChunk()
	c.console.Println("Chunk %d complete (%d bytes)", task.Index, task.Length)
	logging.LogChunkComplete(logger, task.Index, task.Length)
	return result
}
