//go:build linux || darwin

package filesystem

import (
	"golang.org/x/sys/unix"

	"github.com/AK1OS/file-transfer/internal/errors"
	"github.com/AK1OS/file-transfer/internal/protocol"
)

// GetFileAttributes captures permissions, ownership and timestamps of path.
// Symlinks are followed.
func GetFileAttributes(path string) (protocol.FileAttributes, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return protocol.FileAttributes{}, errors.NewFileSystemError("stat_attributes", path, err)
	}

	atimeSec, atimeNsec := st.Atim.Unix()
	mtimeSec, mtimeNsec := st.Mtim.Unix()

	return protocol.FileAttributes{
		// uint16 on darwin
		Mode:  uint32(st.Mode),
		Atime: protocol.Timespec{Sec: atimeSec, Nsec: atimeNsec},
		Mtime: protocol.Timespec{Sec: mtimeSec, Nsec: mtimeNsec},
		Uid:   st.Uid,
		Gid:   st.Gid,
	}, nil
}
