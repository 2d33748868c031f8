package client

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/AK1OS/file-transfer/internal/config"
	"github.com/AK1OS/file-transfer/internal/filesystem"
	"github.com/AK1OS/file-transfer/internal/logging"
	"github.com/AK1OS/file-transfer/internal/protocol"
)

// DirectoryResult reports the per-item outcome of a directory transfer
type DirectoryResult struct {
	BaseName     string
	Total        int
	SuccessCount int
	FailCount    int
	BytesSent    int64
	Status       string
	Duration     time.Duration
}

// SendDirectory sends the tree rooted at dirPath over one connection. A
// failed item is counted and the loop moves on to the next one.
func (c *Client) SendDirectory(ctx context.Context, dirPath string) (*DirectoryResult, error) {
	logger := c.logger(config.ModeDirectory)
	startTime := time.Now()

	info, err := filesystem.RequireDirectory(dirPath)
	if err != nil {
		return nil, err
	}

	entries, err := filesystem.ScanDirectory(dirPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Directory scanned", "path", dirPath, "items", len(entries))
	logging.LogSessionStart(logger, config.ModeDirectory, 0, 1)

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := protocol.SendDirectoryControl(conn, info.Name, int32(len(entries))); err != nil {
		return nil, err
	}

	result := c.sendEntries(conn, dirPath, entries, logger)
	result.BaseName = info.Name

	status, err := protocol.ReadStatus(conn, config.DirectoryStatusSize)
	result.Duration = time.Since(startTime)
	logging.LogDirectorySummary(logger, result.Total, result.SuccessCount, result.FailCount, result.Duration)
	if err != nil {
		return result, err
	}

	result.Status = status
	c.console.Println("%s", status)
	c.console.Println("Directory transfer: %d/%d items sent, %d failed",
		result.SuccessCount, result.Total, result.FailCount)
	return result, nil
}

// sendEntries writes every entry in order and counts the outcome of each
func (c *Client) sendEntries(w io.Writer, root string, entries []filesystem.DirectoryEntry, logger *slog.Logger) *DirectoryResult {
	result := &DirectoryResult{Total: len(entries)}

	for i, entry := range entries {
		var (
			sent int64
			err  error
		)
		if entry.IsDirectory {
			err = c.sendDirectoryItem(w, root, entry)
		} else {
			sent, err = c.sendDirectoryFile(w, root, entry)
		}
		result.BytesSent += sent

		if err != nil {
			result.FailCount++
			logger.Warn("Directory item failed", "item", entry.RelativePath, "error", err)
			c.console.Println("[%d/%d] FAILED %s: %v", i+1, len(entries), entry.RelativePath, err)
			continue
		}

		result.SuccessCount++
		if entry.IsDirectory {
			c.console.Println("[%d/%d] dir  %s", i+1, len(entries), entry.RelativePath)
		} else {
			c.console.Println("[%d/%d] file %s (%d bytes)", i+1, len(entries), entry.RelativePath, sent)
		}
	}

	return result
}

func (c *Client) sendDirectoryItem(w io.Writer, root string, entry filesystem.DirectoryEntry) error {
	if err := filesystem.ValidateRelativePath(entry.RelativePath); err != nil {
		return err
	}

	attrs, err := filesystem.GetFileAttributes(entryPath(root, entry))
	if err != nil {
		return err
	}
	return protocol.SendDirectoryItem(w, protocol.ItemDirectory, entry.RelativePath, attrs)
}

// sendDirectoryFile sends the item header, the size and the content. The
// file is opened before anything is written so an unreadable file leaves
// the stream untouched.
func (c *Client) sendDirectoryFile(w io.Writer, root string, entry filesystem.DirectoryEntry) (int64, error) {
	if err := filesystem.ValidateRelativePath(entry.RelativePath); err != nil {
		return 0, err
	}

	fullPath := entryPath(root, entry)
	info, err := filesystem.RequireRegularFile(fullPath)
	if err != nil {
		return 0, err
	}
	attrs, err := filesystem.GetFileAttributes(fullPath)
	if err != nil {
		return 0, err
	}

	file, err := openAt(fullPath, 0)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if err := protocol.SendDirectoryItem(w, protocol.ItemFile, entry.RelativePath, attrs); err != nil {
		return 0, err
	}
	if err := protocol.SendInt64(w, info.Size); err != nil {
		return 0, err
	}

	buf := c.getBuffer()
	defer c.putBuffer(buf)
	return streamRange(w, file, info.Size, *buf, nil, fullPath)
}

func entryPath(root string, entry filesystem.DirectoryEntry) string {
	return filepath.Join(root, filepath.FromSlash(entry.RelativePath))
}
