package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	ftErrors "github.com/AK1OS/file-transfer/internal/errors"
	"github.com/AK1OS/file-transfer/internal/filesystem"
	"github.com/AK1OS/file-transfer/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTransferTree(t *testing.T) (string, map[string][]byte) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "project")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "inner"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c"), 0755))

	files := make(map[string][]byte)
	for rel, size := range map[string]int{
		"a/inner/deep.bin": 3000,
		"a/z.txt":          10,
		"b.txt":            0,
	} {
		_, content := writeTestFile(t, root, filepath.FromSlash(rel), size)
		files[rel] = content
	}
	return root, files
}

func TestSendDirectory(t *testing.T) {
	peer := newMockPeer(t)
	peer.status = "Directory received: 6 items"
	root, files := buildTransferTree(t)
	c, out := testClient(t, peer.port, nil)

	result, err := c.SendDirectory(context.Background(), root)
	require.NoError(t, err)
	peer.Close()

	assert.Equal(t, "project", result.BaseName)
	assert.Equal(t, 6, result.Total)
	assert.Equal(t, 6, result.SuccessCount)
	assert.Equal(t, 0, result.FailCount)
	assert.Equal(t, int64(3010), result.BytesSent)
	assert.Equal(t, "Directory received: 6 items", result.Status)
	assert.Contains(t, out.String(), "6/6 items sent, 0 failed")

	sessions := peer.Sessions(protocol.ModeDirectory)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, "project", s.base)
	assert.Equal(t, int32(6), s.count)

	want := []struct {
		itemType byte
		relPath  string
	}{
		{protocol.ItemDirectory, "a"},
		{protocol.ItemDirectory, "a/inner"},
		{protocol.ItemFile, "a/inner/deep.bin"},
		{protocol.ItemFile, "a/z.txt"},
		{protocol.ItemFile, "b.txt"},
		{protocol.ItemDirectory, "c"},
	}
	require.Len(t, s.items, len(want))
	for i, w := range want {
		assert.Equal(t, w.itemType, s.items[i].itemType, "item %d", i)
		assert.Equal(t, w.relPath, s.items[i].relPath, "item %d", i)
		if w.itemType == protocol.ItemFile {
			assert.True(t, bytes.Equal(files[w.relPath], s.items[i].data), "item %d", i)
		} else {
			assert.NotZero(t, s.items[i].attrs.Mode&0o40000, "item %d is not a directory", i)
		}
	}
}

func TestSendDirectoryEmpty(t *testing.T) {
	peer := newMockPeer(t)
	c, _ := testClient(t, peer.port, nil)

	result, err := c.SendDirectory(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0, result.SuccessCount)
}

func TestSendDirectoryRejectsFile(t *testing.T) {
	path, _ := writeTestFile(t, t.TempDir(), "file.bin", 10)
	c, _ := testClient(t, 1, nil)

	_, err := c.SendDirectory(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ftErrors.ErrFileSystem))
}

func TestSendDirectoryRejectsFilesystemRoot(t *testing.T) {
	peer := newMockPeer(t)
	c, _ := testClient(t, peer.port, nil)

	_, err := c.SendDirectory(context.Background(), "/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, filesystem.ErrRootDirectory))

	peer.Close()
	assert.Empty(t, peer.Sessions(protocol.ModeDirectory))
}

func TestSendEntriesToleratesItemFailure(t *testing.T) {
	root, _ := buildTransferTree(t)
	entries, err := filesystem.ScanDirectory(root)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	// Five entries, one of which vanished after the scan
	entries = entries[1:]
	require.NoError(t, os.Remove(filepath.Join(root, "a", "z.txt")))

	c, out := testClient(t, 1, nil)
	var wire bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	result := c.sendEntries(&wire, root, entries, logger)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.SuccessCount)
	assert.Equal(t, 1, result.FailCount)
	assert.Contains(t, out.String(), "FAILED a/z.txt")

	// The failed item left nothing on the wire
	var items []string
	for wire.Len() > 0 {
		var kind [1]byte
		_, err := io.ReadFull(&wire, kind[:])
		require.NoError(t, err)
		rel, err := readString(&wire)
		require.NoError(t, err)
		_, err = readAttributes(&wire)
		require.NoError(t, err)
		if kind[0] == protocol.ItemFile {
			size, err := protocol.ReadInt64(&wire)
			require.NoError(t, err)
			wire.Next(int(size))
		}
		items = append(items, rel)
	}
	assert.Equal(t, []string{"a/inner", "a/inner/deep.bin", "b.txt", "c"}, items)
}

func TestSendEntriesRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	c, _ := testClient(t, 1, nil)
	var wire bytes.Buffer

	entries := []filesystem.DirectoryEntry{
		{RelativePath: "../outside", IsDirectory: true},
		{RelativePath: "/etc/passwd", IsDirectory: false},
	}
	result := c.sendEntries(&wire, root, entries, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, 2, result.FailCount)
	assert.Zero(t, wire.Len())
}
