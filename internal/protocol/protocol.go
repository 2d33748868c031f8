package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/AK1OS/file-transfer/internal/errors"
)

// Mode bytes open every connection and select the exchange that follows
const (
	ModeQuery      byte = 'Q' // Resume query
	ModeReset      byte = 'R' // Reset a partial transfer
	ModeSequential byte = 'S' // Whole-file transfer from an offset
	ModeParallel   byte = 'M' // Parallel session negotiation
	ModeDirectory  byte = 'D' // Directory tree transfer
)

// Item types inside a directory transfer
const (
	ItemDirectory byte = 'D'
	ItemFile      byte = 'F'
)

// AckSuccess is the byte a peer sends after receiving a whole chunk.
// Any received byte is accepted as an acknowledgment.
const AckSuccess byte = 1

// Fixed sizes of the binary records
const (
	AttributesSize  = 48
	ChunkHeaderSize = 16
)

// ByteOrder is used for every integer on the wire.
var ByteOrder = binary.LittleEndian

// Timespec is a seconds + nanoseconds timestamp as carried in FileAttributes
type Timespec struct {
	Sec  int64
	Nsec int64
}

// FileAttributes is the metadata record forwarded verbatim to the server.
//
// Wire layout (48 bytes):
//
//	0  mode  uint32
//	4  padding
//	8  atime sec, nsec int64
//	24 mtime sec, nsec int64
//	40 uid   uint32
//	44 gid   uint32
type FileAttributes struct {
	Mode  uint32
	Atime Timespec
	Mtime Timespec
	Uid   uint32
	Gid   uint32
}

// MarshalBinary encodes the attributes as the fixed-size wire blob
func (a FileAttributes) MarshalBinary() ([]byte, error) {
	buf := make([]byte, AttributesSize)
	ByteOrder.PutUint32(buf[0:], a.Mode)
	ByteOrder.PutUint64(buf[8:], uint64(a.Atime.Sec))
	ByteOrder.PutUint64(buf[16:], uint64(a.Atime.Nsec))
	ByteOrder.PutUint64(buf[24:], uint64(a.Mtime.Sec))
	ByteOrder.PutUint64(buf[32:], uint64(a.Mtime.Nsec))
	ByteOrder.PutUint32(buf[40:], a.Uid)
	ByteOrder.PutUint32(buf[44:], a.Gid)
	return buf, nil
}

// UnmarshalBinary decodes a wire blob produced by MarshalBinary
func (a *FileAttributes) UnmarshalBinary(data []byte) error {
	if len(data) != AttributesSize {
		return errors.NewProtocolError("unmarshal_attributes",
			fmt.Sprintf("expected %d bytes, got %d", AttributesSize, len(data)), nil)
	}
	a.Mode = ByteOrder.Uint32(data[0:])
	a.Atime.Sec = int64(ByteOrder.Uint64(data[8:]))
	a.Atime.Nsec = int64(ByteOrder.Uint64(data[16:]))
	a.Mtime.Sec = int64(ByteOrder.Uint64(data[24:]))
	a.Mtime.Nsec = int64(ByteOrder.Uint64(data[32:]))
	a.Uid = ByteOrder.Uint32(data[40:])
	a.Gid = ByteOrder.Uint32(data[44:])
	return nil
}

// ChunkHeader is the only message a parallel worker sends before its data
type ChunkHeader struct {
	SessionID  int32
	ChunkIndex int32
	StartPos   int32
	ChunkSize  int32
}

// MarshalBinary encodes the header as four consecutive int32 fields
func (h ChunkHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ChunkHeaderSize)
	ByteOrder.PutUint32(buf[0:], uint32(h.SessionID))
	ByteOrder.PutUint32(buf[4:], uint32(h.ChunkIndex))
	ByteOrder.PutUint32(buf[8:], uint32(h.StartPos))
	ByteOrder.PutUint32(buf[12:], uint32(h.ChunkSize))
	return buf, nil
}

// UnmarshalBinary decodes a 16-byte chunk header
func (h *ChunkHeader) UnmarshalBinary(data []byte) error {
	if len(data) != ChunkHeaderSize {
		return errors.NewProtocolError("unmarshal_chunk_header",
			fmt.Sprintf("expected %d bytes, got %d", ChunkHeaderSize, len(data)), nil)
	}
	h.SessionID = int32(ByteOrder.Uint32(data[0:]))
	h.ChunkIndex = int32(ByteOrder.Uint32(data[4:]))
	h.StartPos = int32(ByteOrder.Uint32(data[8:]))
	h.ChunkSize = int32(ByteOrder.Uint32(data[12:]))
	return nil
}

// ResumeInfo is the answer to a resume query. Transferred is only
// meaningful when Exists is true.
type ResumeInfo struct {
	FileName    string
	FileSize    int64
	Transferred int64
	Exists      bool
}

// CanResume reports whether the peer holds a usable partial transfer
func (ri ResumeInfo) CanResume() bool {
	return ri.Exists && ri.Transferred > 0 && ri.Transferred < ri.FileSize
}

// message accumulates the fields of one client message so that it goes out
// in a single write.
type message struct {
	buf bytes.Buffer
}

func (m *message) byte(b byte) *message {
	m.buf.WriteByte(b)
	return m
}

func (m *message) int32(v int32) *message {
	var b [4]byte
	ByteOrder.PutUint32(b[:], uint32(v))
	m.buf.Write(b[:])
	return m
}

func (m *message) int64(v int64) *message {
	var b [8]byte
	ByteOrder.PutUint64(b[:], uint64(v))
	m.buf.Write(b[:])
	return m
}

func (m *message) string(s string) *message {
	m.int32(int32(len(s)))
	m.buf.WriteString(s)
	return m
}

func (m *message) attributes(a FileAttributes) *message {
	blob, _ := a.MarshalBinary()
	m.buf.Write(blob)
	return m
}

func (m *message) send(w io.Writer, op string) error {
	return writeFull(w, m.buf.Bytes(), op)
}

func writeFull(w io.Writer, data []byte, op string) error {
	n, err := w.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return errors.NewProtocolError(op, fmt.Sprintf("failed to send %d bytes", len(data)), err)
	}
	return nil
}

// SendCommand sends a single mode or item byte
func SendCommand(w io.Writer, cmd byte) error {
	return writeFull(w, []byte{cmd}, fmt.Sprintf("send_command_%c", cmd))
}

// SendInt64 sends an 8-byte integer
func SendInt64(w io.Writer, v int64) error {
	return new(message).int64(v).send(w, "send_int64")
}

// SendChunkHeader sends the 16-byte parallel chunk header
func SendChunkHeader(w io.Writer, h ChunkHeader) error {
	blob, _ := h.MarshalBinary()
	return writeFull(w, blob, "send_chunk_header")
}

// SendResumeQuery sends Q followed by the length-prefixed file name
func SendResumeQuery(w io.Writer, fileName string) error {
	return new(message).byte(ModeQuery).string(fileName).send(w, "send_resume_query")
}

// SendSequentialHeader sends S, start offset, attributes, file name and size
func SendSequentialHeader(w io.Writer, startPos int64, attrs FileAttributes, fileName string, fileSize int64) error {
	return new(message).
		byte(ModeSequential).
		int64(startPos).
		attributes(attrs).
		string(fileName).
		int64(fileSize).
		send(w, "send_sequential_header")
}

// SendParallelControl sends M, thread count, attributes, file name and size
func SendParallelControl(w io.Writer, numThreads int32, attrs FileAttributes, fileName string, fileSize int64) error {
	return new(message).
		byte(ModeParallel).
		int32(numThreads).
		attributes(attrs).
		string(fileName).
		int64(fileSize).
		send(w, "send_parallel_control")
}

// SendDirectoryControl sends D, the base directory name and the item count
func SendDirectoryControl(w io.Writer, baseName string, totalItems int32) error {
	return new(message).
		byte(ModeDirectory).
		string(baseName).
		int32(totalItems).
		send(w, "send_directory_control")
}

// SendDirectoryItem sends the item type, relative path and attributes.
// File items are followed by SendInt64(size) and the file bytes.
func SendDirectoryItem(w io.Writer, itemType byte, relPath string, attrs FileAttributes) error {
	return new(message).
		byte(itemType).
		string(relPath).
		attributes(attrs).
		send(w, "send_directory_item")
}

// ReadBool reads a 1-byte boolean, any non-zero value is true
func ReadBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, errors.NewProtocolError("read_bool", "failed to read boolean", err)
	}
	return b[0] != 0, nil
}

// ReadInt32 reads a 4-byte integer
func ReadInt32(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.NewProtocolError("read_int32", "failed to read int32", err)
	}
	return int32(ByteOrder.Uint32(b[:])), nil
}

// ReadInt64 reads an 8-byte integer
func ReadInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.NewProtocolError("read_int64", "failed to read int64", err)
	}
	return int64(ByteOrder.Uint64(b[:])), nil
}

// ReadResumeInfo reads the exists flag and, when set, the transferred count
func ReadResumeInfo(r io.Reader, fileName string, fileSize int64) (ResumeInfo, error) {
	info := ResumeInfo{FileName: fileName, FileSize: fileSize}

	exists, err := ReadBool(r)
	if err != nil {
		return info, err
	}
	if !exists {
		return info, nil
	}

	transferred, err := ReadInt64(r)
	if err != nil {
		return info, err
	}

	info.Exists = true
	info.Transferred = transferred
	return info, nil
}

// ReadAck waits for the single acknowledgment byte that closes a chunk
func ReadAck(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.NewProtocolError("read_ack", "no acknowledgment from server", err)
	}
	return b[0], nil
}

// ReadStatus performs one read of at most maxLen bytes and returns the
// server's free-form status text.
func ReadStatus(r io.Reader, maxLen int) (string, error) {
	buf := make([]byte, maxLen)
	n, err := r.Read(buf)
	if n <= 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		return "", errors.NewProtocolError("read_status", "no status message from server", err)
	}
	return strings.TrimRight(string(buf[:n]), "\x00 \r\n\t"), nil
}
