//go:build !(linux || darwin)

package filesystem

import (
	"fmt"
	"runtime"

	"github.com/AK1OS/file-transfer/internal/errors"
	"github.com/AK1OS/file-transfer/internal/protocol"
)

// ErrAttributesUnsupported is returned where file attributes cannot be captured
var ErrAttributesUnsupported = fmt.Errorf("file attributes are not supported on %s", runtime.GOOS)

// GetFileAttributes always fails on this platform
func GetFileAttributes(path string) (protocol.FileAttributes, error) {
	return protocol.FileAttributes{}, errors.NewFileSystemError("stat_attributes", path, ErrAttributesUnsupported)
}
