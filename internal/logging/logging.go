package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AK1OS/file-transfer/internal/config"
	ftErrors "github.com/AK1OS/file-transfer/internal/errors"
	"github.com/AK1OS/file-transfer/internal/filesystem"
	"github.com/AK1OS/file-transfer/internal/protocol"
)

// SetupLogger initializes structured logging with file and console output
func SetupLogger() error {
	return setupLogger(config.LogDir, os.Stdout)
}

func setupLogger(dir string, console io.Writer) error {
	// Create logs directory if it doesn't exist
	if err := filesystem.EnsureDirectoryExists(dir); err != nil {
		return err
	}

	// Create log file with timestamp
	logFileName := filepath.Join(dir,
		"filetransfer_"+time.Now().Format("20060102_150405")+".log")

	logFile, err := os.Create(logFileName)
	if err != nil {
		// Continue with console logging only
		slog.Warn("Failed to create log file, using console only", "error", err)
		return nil
	}

	// Create multi-writer to log to both console and file
	multiWriter := io.MultiWriter(console, logFile)

	opts := &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: false,
	}

	// Use text handler for better console readability
	handler := slog.NewTextHandler(multiWriter, opts)
	slog.SetDefault(slog.New(handler))

	slog.Info("Logging initialized", "session_id", time.Now().Format("20060102_150405"))
	return nil
}

// LogConfig logs the current configuration
func LogConfig(cfg *config.Config) {
	mode := cfg.Mode
	if mode == "" {
		mode = "interactive"
	}

	slog.Info("Configuration loaded",
		"mode", mode,
		"threads", cfg.Threads,
		"block_size_kb", float64(cfg.BlockSize)/1024,
		"timeout_seconds", cfg.Timeout.Seconds(),
		"progress_interval_ms", cfg.ProgressInterval.Milliseconds(),
		"verify_hash", cfg.VerifyHash)
	slog.Debug("Effective configuration", "config", cfg.String())

	if cfg.ServerAddress != "" {
		slog.Info("Server configured", "server_address", cfg.ServerAddress)
	} else {
		slog.Info("Server discovery enabled",
			"discovery_port", cfg.DiscoveryPort,
			"discovery_timeout_seconds", cfg.DiscoveryTimeout.Seconds())
	}
}

// LogError logs an error with appropriate context
func LogError(err error, context string) {
	var (
		connErr  *ftErrors.ConnectionError
		fsErr    *ftErrors.FileSystemError
		protoErr *ftErrors.ProtocolError
		aggErr   *ftErrors.AggregateTransferError
		valErr   *ftErrors.ValidationError
	)

	switch {
	case errors.As(err, &aggErr):
		slog.Error("Parallel transfer failed",
			"context", context,
			"failed_chunks", aggErr.Failed,
			"total_chunks", aggErr.Total,
			"first_error", aggErr.First,
			"error_type", "aggregate")
	case errors.As(err, &connErr):
		slog.Error("Connection error",
			"context", context,
			"operation", connErr.Op,
			"address", connErr.Addr,
			"error", connErr.Err,
			"error_type", "connection")
	case errors.As(err, &fsErr):
		slog.Error("File system error",
			"context", context,
			"operation", fsErr.Op,
			"path", fsErr.Path,
			"error", fsErr.Err,
			"error_type", "filesystem")
	case errors.As(err, &protoErr):
		slog.Error("Protocol error",
			"context", context,
			"operation", protoErr.Op,
			"message", protoErr.Message,
			"error", protoErr.Err,
			"error_type", "protocol")
	case errors.As(err, &valErr):
		slog.Error("Validation error",
			"context", context,
			"field", valErr.Field,
			"message", valErr.Message,
			"error_type", "validation")
	default:
		slog.Error("Unhandled error",
			"context", context,
			"error", err,
			"error_type", "unknown")
	}
}

// LogFileAttributes logs the metadata record about to be sent
func LogFileAttributes(logger *slog.Logger, path string, attrs protocol.FileAttributes, size int64) {
	logger.Info("File attributes",
		"path", path,
		"size_bytes", size,
		"permissions", filesystem.FormatPermissions(attrs.Mode),
		"uid", attrs.Uid,
		"gid", attrs.Gid,
		"modified", filesystem.FormatTimespec(attrs.Mtime))
}

// LogTransferProgress logs transfer progress information
func LogTransferProgress(filename string, transferred, total int64, rateKBps float64) {
	var percent float64
	if total > 0 {
		percent = float64(transferred) / float64(total) * 100
	}
	slog.Info("Transfer progress",
		"file", filename,
		"transferred_mb", float64(transferred)/(1024*1024),
		"total_mb", float64(total)/(1024*1024),
		"percent_complete", percent,
		"transfer_rate_kbps", rateKBps)
}

// LogSessionStart logs the start of a transfer
func LogSessionStart(logger *slog.Logger, mode string, totalSize int64, workers int) {
	logger.Info("Transfer session started",
		"mode", mode,
		"total_size_mb", float64(totalSize)/(1024*1024),
		"worker_threads", workers,
		"session_start", time.Now().Format("15:04:05"))
}

// LogChunkComplete logs a finished parallel chunk
func LogChunkComplete(logger *slog.Logger, index int, length int64) {
	logger.Debug("Chunk complete",
		"chunk_index", index,
		"chunk_size_kb", float64(length)/1024)
}

// LogSessionEnd logs the end of a transfer
func LogSessionEnd(logger *slog.Logger, success bool, totalBytes int64, duration time.Duration) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}

	var avgRate float64
	if duration > 0 {
		avgRate = float64(totalBytes) / 1024 / duration.Seconds()
	}
	logger.Info("Transfer session ended",
		"status", status,
		"total_bytes_transferred", totalBytes,
		"session_duration_ms", duration.Milliseconds(),
		"average_throughput_kbps", avgRate,
		"session_end", time.Now().Format("15:04:05"))
}

// LogDirectorySummary logs the per-item outcome of a directory transfer
func LogDirectorySummary(logger *slog.Logger, total, succeeded, failed int, duration time.Duration) {
	logger.Info("Directory transfer finished",
		"total_items", total,
		"succeeded", succeeded,
		"failed", failed,
		"duration_ms", duration.Milliseconds())
}

// LogDigest logs the digest of a transferred file
func LogDigest(logger *slog.Logger, path string, algorithm filesystem.HashAlgorithm, sum string) {
	logger.Info("File digest", "path", path, "algorithm", algorithm, "digest", sum)
}
