// Package client implements the transfer engines that talk to the file
// server: resumable sequential transfer, parallel chunked transfer and
// directory tree transfer. Every engine call opens its own connections and
// closes them before returning.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/AK1OS/file-transfer/internal/config"
	"github.com/AK1OS/file-transfer/internal/errors"
	"github.com/AK1OS/file-transfer/internal/filesystem"
	"github.com/AK1OS/file-transfer/internal/logging"
	"github.com/AK1OS/file-transfer/internal/network"
	"github.com/AK1OS/file-transfer/internal/progress"
	"github.com/AK1OS/file-transfer/internal/protocol"
)

// ResumeDecider asks the operator whether a partial transfer found on the
// server should be continued.
type ResumeDecider interface {
	ConfirmResume(info protocol.ResumeInfo) bool
}

// ResumeDeciderFunc adapts a function to ResumeDecider
type ResumeDeciderFunc func(info protocol.ResumeInfo) bool

// ConfirmResume calls f(info)
func (f ResumeDeciderFunc) ConfirmResume(info protocol.ResumeInfo) bool {
	return f(info)
}

// Client sends files to one server
type Client struct {
	ip      string
	port    int
	cfg     *config.Config
	decider ResumeDecider
	console *progress.Console

	buffers sync.Pool
}

// New creates a client for the server at ip:port. A nil decider always
// restarts partial transfers from the beginning.
func New(ip string, port int, cfg *config.Config, decider ResumeDecider, console *progress.Console) *Client {
	if decider == nil {
		decider = ResumeDeciderFunc(func(protocol.ResumeInfo) bool { return false })
	}
	if console == nil {
		console = progress.NewConsole(os.Stdout)
	}

	c := &Client{
		ip:      ip,
		port:    port,
		cfg:     cfg,
		decider: decider,
		console: console,
	}
	c.buffers.New = func() interface{} {
		buf := make([]byte, cfg.BlockSize)
		return &buf
	}
	return c
}

// Address returns the server address in ip:port form
func (c *Client) Address() string {
	return fmt.Sprintf("%s:%d", c.ip, c.port)
}

func (c *Client) connect(ctx context.Context) (*network.Conn, error) {
	return network.Connect(ctx, c.ip, c.port, c.cfg.Timeout)
}

func (c *Client) logger(mode string) *slog.Logger {
	return slog.With("transfer_id", uuid.NewString(), "mode", mode, "server", c.Address())
}

func (c *Client) getBuffer() *[]byte {
	return c.buffers.Get().(*[]byte)
}

func (c *Client) putBuffer(buf *[]byte) {
	c.buffers.Put(buf)
}

// streamRange copies exactly length bytes from r to w in blocks of len(buf),
// adding every written block to stats. A source that ends early is a file
// system error; a failed write is a protocol error.
func streamRange(w io.Writer, r io.Reader, length int64, buf []byte, stats *progress.Stats, name string) (int64, error) {
	var sent int64
	for sent < length {
		toRead := int64(len(buf))
		if remaining := length - sent; remaining < toRead {
			toRead = remaining
		}

		n, readErr := io.ReadFull(r, buf[:toRead])
		if n > 0 {
			written, err := w.Write(buf[:n])
			if err == nil && written < n {
				err = io.ErrShortWrite
			}
			if err != nil {
				return sent, errors.NewProtocolError("send_data",
					fmt.Sprintf("failed after %d of %d bytes", sent, length), err)
			}
			sent += int64(n)
			if stats != nil {
				stats.AddSent(int64(n))
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				readErr = io.ErrUnexpectedEOF
			}
			return sent, errors.NewFileSystemError("read", name, readErr)
		}
	}
	return sent, nil
}

// openAt opens path for reading positioned at offset
func openAt(path string, offset int64) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewFileSystemError("open", path, err)
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, errors.NewFileSystemError("seek", path, err)
		}
	}
	return file, nil
}

// logDigest records a digest of path when verification is enabled
func (c *Client) logDigest(logger *slog.Logger, path string) {
	if !c.cfg.VerifyHash {
		return
	}
	sum, algorithm, err := filesystem.HashFile(path)
	if err != nil {
		logger.Warn("Failed to compute file digest", "path", path, "error", err)
		return
	}
	logging.LogDigest(logger, path, algorithm, sum)
}
