//go:build !(linux || darwin)

package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	ftErrors "github.com/AK1OS/file-transfer/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFileAttributesUnsupported(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))

	_, err := GetFileAttributes(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAttributesUnsupported))
	assert.True(t, errors.Is(err, ftErrors.ErrFileSystem))
}
