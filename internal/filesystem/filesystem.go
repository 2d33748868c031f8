package filesystem

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/AK1OS/file-transfer/internal/config"
	"github.com/AK1OS/file-transfer/internal/errors"
	"github.com/AK1OS/file-transfer/internal/protocol"
)

var (
	errNotRegular   = fmt.Errorf("not a regular file")
	errNotDirectory = fmt.Errorf("not a directory")
	errEmptyFile    = fmt.Errorf("file is empty")
)

// ErrRootDirectory rejects the filesystem root as a transfer source: it has
// no base name to send.
var ErrRootDirectory = fmt.Errorf("cannot send the filesystem root")

// FileInfo represents information about a file to be transferred
type FileInfo struct {
	Name     string
	Size     int64
	Path     string
	IsDir    bool
	Modified time.Time
}

// DirectoryEntry is one item of a scanned tree. RelativePath always uses
// "/" separators and is relative to the scanned root.
type DirectoryEntry struct {
	RelativePath string
	IsDirectory  bool
}

// GetFileInfo returns information about a file
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}

	return &FileInfo{
		Name:     stat.Name(),
		Size:     stat.Size(),
		Path:     path,
		IsDir:    stat.IsDir(),
		Modified: stat.ModTime(),
	}, nil
}

// RequireRegularFile returns the file info when path is a regular file
func RequireRegularFile(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}
	if !stat.Mode().IsRegular() {
		return nil, errors.NewFileSystemError("validate", path, errNotRegular)
	}

	return &FileInfo{
		Name:     BaseName(path),
		Size:     stat.Size(),
		Path:     path,
		Modified: stat.ModTime(),
	}, nil
}

// RequireNonEmptyFile is RequireRegularFile that also rejects empty files
func RequireNonEmptyFile(path string) (*FileInfo, error) {
	info, err := RequireRegularFile(path)
	if err != nil {
		return nil, err
	}
	if info.Size == 0 {
		return nil, errors.NewFileSystemError("validate", path, errEmptyFile)
	}
	return info, nil
}

// RequireDirectory returns the directory info when path is a directory
func RequireDirectory(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}
	if !stat.IsDir() {
		return nil, errors.NewFileSystemError("validate", path, errNotDirectory)
	}

	// "." and ".." name the directory they resolve to
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewFileSystemError("resolve", path, err)
	}
	name := BaseName(filepath.ToSlash(abs))
	if strings.Contains(name, "/") {
		return nil, errors.NewFileSystemError("validate", path, ErrRootDirectory)
	}

	return &FileInfo{
		Name:     name,
		Path:     path,
		IsDir:    true,
		Modified: stat.ModTime(),
	}, nil
}

// BaseName returns the last element of a POSIX-style path, the name the
// server stores a file or directory under.
func BaseName(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return p
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// ValidateRelativePath checks that a path sent to the server stays inside
// the transferred tree
func ValidateRelativePath(rel string) error {
	if rel == "" {
		return errors.NewValidationError("relative_path", rel, "path is empty")
	}
	if strings.HasPrefix(rel, "/") {
		return errors.NewValidationError("relative_path", rel, "path is absolute")
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return errors.NewValidationError("relative_path", rel, "path contains directory traversal")
		}
	}
	return nil
}

// ScanDirectory lists the tree under root in pre-order: each directory is
// recorded and then its contents, before the next sibling. Entries inside a
// directory are ordered by name. Symlinks are followed; entries that cannot
// be stat'ed and links back to an ancestor directory are skipped.
func ScanDirectory(root string) ([]DirectoryEntry, error) {
	rootInfo, err := os.Stat(root)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", root, err)
	}
	if !rootInfo.IsDir() {
		return nil, errors.NewFileSystemError("validate", root, errNotDirectory)
	}

	entries := make([]DirectoryEntry, 0)
	scanDirectory(root, "", []os.FileInfo{rootInfo}, &entries)
	return entries, nil
}

func scanDirectory(basePath, relativePath string, ancestors []os.FileInfo, result *[]DirectoryEntry) {
	fullPath := basePath
	if relativePath != "" {
		fullPath = filepath.Join(basePath, relativePath)
	}

	items, err := os.ReadDir(fullPath)
	if err != nil {
		slog.Warn("Cannot open directory", "path", fullPath, "error", err)
	}

	for _, item := range items {
		itemRelative := item.Name()
		if relativePath != "" {
			itemRelative = path.Join(relativePath, item.Name())
		}

		stat, err := os.Stat(filepath.Join(fullPath, item.Name()))
		if err != nil {
			slog.Debug("Skipping entry", "path", itemRelative, "error", err)
			continue
		}

		if !stat.IsDir() {
			*result = append(*result, DirectoryEntry{RelativePath: itemRelative})
			continue
		}

		if isAncestor(stat, ancestors) {
			slog.Warn("Skipping directory cycle", "path", itemRelative)
			continue
		}

		*result = append(*result, DirectoryEntry{RelativePath: itemRelative, IsDirectory: true})
		scanDirectory(basePath, itemRelative, append(ancestors, stat), result)
	}
}

func isAncestor(stat os.FileInfo, ancestors []os.FileInfo) bool {
	for _, a := range ancestors {
		if os.SameFile(a, stat) {
			return true
		}
	}
	return false
}

// HashAlgorithm names a digest used for post-transfer integrity logging
type HashAlgorithm string

const (
	HashMD5     HashAlgorithm = "md5"
	HashSHA256  HashAlgorithm = "sha256"
	HashBLAKE2b HashAlgorithm = "blake2b"
)

// LargeFileSizeThreshold switches digests to BLAKE2b
const LargeFileSizeThreshold = 50 * 1024 * 1024 * 1024 // 50GB in bytes

// SelectHashAlgorithm picks the digest for a file of the given size
func SelectHashAlgorithm(fileSize int64) HashAlgorithm {
	if fileSize >= LargeFileSizeThreshold {
		return HashBLAKE2b
	}
	return HashMD5
}

// CalculateFileHash calculates the digest of a file from its beginning
func CalculateFileHash(file *os.File, algorithm HashAlgorithm) (string, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", errors.NewFileSystemError("seek", file.Name(), err)
	}

	var h hash.Hash
	switch algorithm {
	case HashMD5:
		h = md5.New()
	case HashSHA256:
		h = sha256.New()
	case HashBLAKE2b:
		var err error
		if h, err = blake2b.New256(nil); err != nil {
			return "", errors.NewFileSystemError("hash_init", file.Name(), err)
		}
	default:
		return "", errors.NewValidationError("hash_algorithm", algorithm, "unsupported algorithm")
	}

	buffer := make([]byte, config.HashBufferSize)
	if _, err := io.CopyBuffer(h, file, buffer); err != nil {
		return "", errors.NewFileSystemError("read_hash", file.Name(), err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile opens path and digests it with the algorithm chosen for its size
func HashFile(path string) (string, HashAlgorithm, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", errors.NewFileSystemError("open", path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", "", errors.NewFileSystemError("stat", path, err)
	}

	algorithm := SelectHashAlgorithm(stat.Size())
	sum, err := CalculateFileHash(file, algorithm)
	return sum, algorithm, err
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if err := os.MkdirAll(dir, config.LogDirPerms); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}
	return nil
}

// FormatPermissions renders the low nine mode bits as rwxrwxrwx
func FormatPermissions(mode uint32) string {
	const symbols = "rwxrwxrwx"
	var b strings.Builder
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			b.WriteByte(symbols[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// FormatTimespec renders a timestamp with nanosecond precision in local time
func FormatTimespec(ts protocol.Timespec) string {
	return fmt.Sprintf("%s.%09d", time.Unix(ts.Sec, 0).Format("2006-01-02 15:04:05"), ts.Nsec)
}

// FormatAttributes renders the attribute block shown before a transfer
func FormatAttributes(filePath string, attrs protocol.FileAttributes, fileSize int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== File attributes ===\n")
	fmt.Fprintf(&b, "File:        %s\n", filePath)
	fmt.Fprintf(&b, "Size:        %d bytes\n", fileSize)
	fmt.Fprintf(&b, "Permissions: 0%o (%s)\n", attrs.Mode&0777, FormatPermissions(attrs.Mode))
	fmt.Fprintf(&b, "Owner:       %d\n", attrs.Uid)
	fmt.Fprintf(&b, "Group:       %d\n", attrs.Gid)
	fmt.Fprintf(&b, "Accessed:    %s\n", FormatTimespec(attrs.Atime))
	fmt.Fprintf(&b, "Modified:    %s\n", FormatTimespec(attrs.Mtime))
	b.WriteString("=======================")
	return b.String()
}
