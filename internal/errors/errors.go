package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for different categories of failures
var (
	ErrConnection        = errors.New("connection error")
	ErrFileSystem        = errors.New("file system error")
	ErrProtocol          = errors.New("protocol error")
	ErrAggregateTransfer = errors.New("aggregate transfer error")
	ErrValidation        = errors.New("validation error")
)

// ConnectionError represents a failure to create, connect or use a socket.
// Op names the step, for example "resolve", "connect" or "discover".
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s to %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// FileSystemError represents file system-related errors
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("file system error during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

func (e *FileSystemError) Is(target error) bool {
	return target == ErrFileSystem
}

// ProtocolError represents a short or failed send/receive, or a missing response
type ProtocolError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error during %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error during %s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// AggregateTransferError reports that one or more parallel workers failed.
// First is the first error the coordinator received.
type AggregateTransferError struct {
	Failed []int
	Total  int
	First  error
}

func (e *AggregateTransferError) Error() string {
	indexes := make([]string, len(e.Failed))
	for i, idx := range e.Failed {
		indexes[i] = fmt.Sprintf("%d", idx)
	}
	return fmt.Sprintf("parallel transfer failed: %d/%d chunks failed [%s]: %v",
		len(e.Failed), e.Total, strings.Join(indexes, ","), e.First)
}

func (e *AggregateTransferError) Unwrap() error {
	return e.First
}

func (e *AggregateTransferError) Is(target error) bool {
	return target == ErrAggregateTransfer
}

// ValidationError represents validation errors
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s='%v': %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Helper functions for creating errors

func NewConnectionError(op, addr string, err error) error {
	return &ConnectionError{Op: op, Addr: addr, Err: err}
}

func NewFileSystemError(op, path string, err error) error {
	return &FileSystemError{Op: op, Path: path, Err: err}
}

func NewProtocolError(op, message string, err error) error {
	return &ProtocolError{Op: op, Message: message, Err: err}
}

func NewAggregateTransferError(failed []int, total int, first error) error {
	return &AggregateTransferError{Failed: failed, Total: total, First: first}
}

func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{Field: field, Value: value, Message: message}
}
