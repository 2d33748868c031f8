package client

import (
	"context"
	"io"
	"time"

	"github.com/AK1OS/file-transfer/internal/config"
	"github.com/AK1OS/file-transfer/internal/filesystem"
	"github.com/AK1OS/file-transfer/internal/logging"
	"github.com/AK1OS/file-transfer/internal/progress"
	"github.com/AK1OS/file-transfer/internal/protocol"
)

// SequentialResult describes a finished sequential transfer
type SequentialResult struct {
	FileName    string
	FileSize    int64
	StartOffset int64
	BytesSent   int64
	Status      string
	Duration    time.Duration
}

// QueryResume asks the server how much of fileName it already holds.
// Any failure is reported as "nothing to resume".
func (c *Client) QueryResume(rw io.ReadWriter, fileName string, fileSize int64) protocol.ResumeInfo {
	info := protocol.ResumeInfo{FileName: fileName, FileSize: fileSize}

	if err := protocol.SendResumeQuery(rw, fileName); err != nil {
		return info
	}

	reply, err := protocol.ReadResumeInfo(rw, fileName, fileSize)
	if err != nil {
		return info
	}
	return reply
}

// SendFile transfers a regular file over a single connection, resuming from
// the server's partial copy when the operator agrees.
func (c *Client) SendFile(ctx context.Context, filePath string) (*SequentialResult, error) {
	logger := c.logger(config.ModeSequential)
	startTime := time.Now()

	info, err := filesystem.RequireRegularFile(filePath)
	if err != nil {
		return nil, err
	}

	attrs, err := filesystem.GetFileAttributes(filePath)
	if err != nil {
		return nil, err
	}
	logging.LogFileAttributes(logger, filePath, attrs, info.Size)
	c.console.Println("%s", filesystem.FormatAttributes(filePath, attrs, info.Size))
	logging.LogSessionStart(logger, config.ModeSequential, info.Size, 1)

	queryConn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	resume := c.QueryResume(queryConn, info.Name, info.Size)

	var startPos int64
	if resume.CanResume() {
		c.console.Println("Partial transfer found on server: %d/%d bytes", resume.Transferred, info.Size)
		if c.decider.ConfirmResume(resume) {
			startPos = resume.Transferred
			logger.Info("Resuming transfer", "offset", startPos)
		} else {
			// The reset travels on the query connection, which is closed
			// right after; the fresh S exchange below restarts at 0.
			if err := protocol.SendCommand(queryConn, protocol.ModeReset); err != nil {
				logger.Debug("Reset command not delivered", "error", err)
			}
			logger.Info("Restarting transfer from the beginning")
		}
	} else {
		logger.Info("Starting new transfer")
	}
	queryConn.Close()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := protocol.SendSequentialHeader(conn, startPos, attrs, info.Name, info.Size); err != nil {
		return nil, err
	}

	file, err := openAt(filePath, startPos)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stats := progress.NewStats(info.Name, info.Size, 0)
	stats.StartTime = startTime
	stats.BaseOffset = startPos
	stats.SetSent(startPos)

	reporter := progress.NewReporter(stats, c.console, c.cfg.ProgressInterval, c.cfg.ShowProgress)
	reporter.Start()

	buf := c.getBuffer()
	sent, err := streamRange(conn, file, info.Size-startPos, *buf, stats, filePath)
	c.putBuffer(buf)
	reporter.Stop()

	if err != nil {
		logging.LogSessionEnd(logger, false, sent, time.Since(startTime))
		return nil, err
	}

	status, err := protocol.ReadStatus(conn, config.SequentialStatusSize)
	if err != nil {
		logging.LogSessionEnd(logger, false, sent, time.Since(startTime))
		return nil, err
	}
	c.console.Println("%s", status)

	duration := time.Since(startTime)
	logging.LogSessionEnd(logger, true, sent, duration)
	c.logDigest(logger, filePath)

	return &SequentialResult{
		FileName:    info.Name,
		FileSize:    info.Size,
		StartOffset: startPos,
		BytesSent:   sent,
		Status:      status,
		Duration:    duration,
	}, nil
}
