package client

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AK1OS/file-transfer/internal/config"
	"github.com/AK1OS/file-transfer/internal/progress"
	"github.com/AK1OS/file-transfer/internal/protocol"

	"github.com/stretchr/testify/require"
)

const testSessionID int32 = 4242

var errAckDropped = errors.New("ack dropped")

// resumeReply is what the peer answers to a Q query
type resumeReply struct {
	exists      bool
	transferred int64
	hangup      bool // close without answering
}

// dirItem is one received directory item
type dirItem struct {
	itemType byte
	relPath  string
	attrs    protocol.FileAttributes
	data     []byte
}

// peerSession records everything received on one connection
type peerSession struct {
	mode     byte
	name     string
	size     int64
	startPos int64
	attrs    protocol.FileAttributes
	threads  int32
	trailing []byte // bytes received after a Q exchange
	data     []byte
	chunk    protocol.ChunkHeader
	base     string
	count    int32
	items    []dirItem
}

// mockPeer is a minimal server side of the transfer protocol. It dispatches
// on the first byte of each connection.
type mockPeer struct {
	t        *testing.T
	ln       net.Listener
	port     int
	resume   resumeReply
	dropAck  map[int32]bool
	status   string
	wg       sync.WaitGroup
	mu       sync.Mutex
	sessions []*peerSession
}

func newMockPeer(t *testing.T) *mockPeer {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	p := &mockPeer{
		t:       t,
		ln:      ln,
		port:    ln.Addr().(*net.TCPAddr).Port,
		dropAck: make(map[int32]bool),
		status:  "File received successfully",
	}
	p.wg.Add(1)
	go p.acceptLoop()
	t.Cleanup(p.Close)
	return p
}

func (p *mockPeer) Close() {
	p.ln.Close()
	p.wg.Wait()
}

func (p *mockPeer) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(5 * time.Second))
			p.handle(conn)
		}()
	}
}

func (p *mockPeer) record(s *peerSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, s)
}

// Sessions returns the recorded sessions with the given mode byte. Chunk
// connections are recorded with mode 0.
func (p *mockPeer) Sessions(mode byte) []*peerSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*peerSession
	for _, s := range p.sessions {
		if s.mode == mode {
			out = append(out, s)
		}
	}
	return out
}

func (p *mockPeer) handle(conn net.Conn) {
	var first [1]byte
	if _, err := io.ReadFull(conn, first[:]); err != nil {
		return
	}

	s := &peerSession{mode: first[0]}
	var err error
	switch first[0] {
	case protocol.ModeQuery:
		err = p.handleQuery(conn, s)
	case protocol.ModeSequential:
		err = p.handleSequential(conn, s)
	case protocol.ModeParallel:
		err = p.handleControl(conn, s)
	case protocol.ModeDirectory:
		err = p.handleDirectory(conn, s)
	default:
		s.mode = 0
		err = p.handleChunk(conn, first[0], s)
	}
	if err == nil {
		p.record(s)
	}
}

func (p *mockPeer) handleQuery(conn net.Conn, s *peerSession) error {
	name, err := readString(conn)
	if err != nil {
		return err
	}
	s.name = name

	if p.resume.hangup {
		return nil
	}
	if p.resume.exists {
		var reply [9]byte
		reply[0] = 1
		protocol.ByteOrder.PutUint64(reply[1:], uint64(p.resume.transferred))
		_, err = conn.Write(reply[:])
	} else {
		_, err = conn.Write([]byte{0})
	}
	if err != nil {
		return err
	}

	s.trailing, err = io.ReadAll(conn)
	return err
}

func (p *mockPeer) handleSequential(conn net.Conn, s *peerSession) error {
	var err error
	if s.startPos, err = protocol.ReadInt64(conn); err != nil {
		return err
	}
	if s.attrs, err = readAttributes(conn); err != nil {
		return err
	}
	if s.name, err = readString(conn); err != nil {
		return err
	}
	if s.size, err = protocol.ReadInt64(conn); err != nil {
		return err
	}

	s.data = make([]byte, s.size-s.startPos)
	if _, err := io.ReadFull(conn, s.data); err != nil {
		return err
	}
	_, err = conn.Write([]byte(p.status))
	return err
}

func (p *mockPeer) handleControl(conn net.Conn, s *peerSession) error {
	var err error
	if s.threads, err = protocol.ReadInt32(conn); err != nil {
		return err
	}
	if s.attrs, err = readAttributes(conn); err != nil {
		return err
	}
	if s.name, err = readString(conn); err != nil {
		return err
	}
	if s.size, err = protocol.ReadInt64(conn); err != nil {
		return err
	}
	return binary.Write(conn, protocol.ByteOrder, testSessionID)
}

func (p *mockPeer) handleChunk(conn net.Conn, first byte, s *peerSession) error {
	var raw [protocol.ChunkHeaderSize]byte
	raw[0] = first
	if _, err := io.ReadFull(conn, raw[1:]); err != nil {
		return err
	}
	if err := s.chunk.UnmarshalBinary(raw[:]); err != nil {
		return err
	}

	s.data = make([]byte, s.chunk.ChunkSize)
	if _, err := io.ReadFull(conn, s.data); err != nil {
		return err
	}
	if p.dropAck[s.chunk.ChunkIndex] {
		return errAckDropped
	}
	_, err := conn.Write([]byte{protocol.AckSuccess})
	return err
}

func (p *mockPeer) handleDirectory(conn net.Conn, s *peerSession) error {
	var err error
	if s.base, err = readString(conn); err != nil {
		return err
	}
	if s.count, err = protocol.ReadInt32(conn); err != nil {
		return err
	}

	for i := int32(0); i < s.count; i++ {
		var item dirItem
		var kind [1]byte
		if _, err := io.ReadFull(conn, kind[:]); err != nil {
			return err
		}
		item.itemType = kind[0]
		if item.relPath, err = readString(conn); err != nil {
			return err
		}
		if item.attrs, err = readAttributes(conn); err != nil {
			return err
		}
		if item.itemType == protocol.ItemFile {
			size, err := protocol.ReadInt64(conn)
			if err != nil {
				return err
			}
			item.data = make([]byte, size)
			if _, err := io.ReadFull(conn, item.data); err != nil {
				return err
			}
		}
		s.items = append(s.items, item)
	}

	_, err = conn.Write([]byte(p.status))
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := protocol.ReadInt32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readAttributes(r io.Reader) (protocol.FileAttributes, error) {
	var attrs protocol.FileAttributes
	raw := make([]byte, protocol.AttributesSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return attrs, err
	}
	err := attrs.UnmarshalBinary(raw)
	return attrs, err
}

// testClient returns a client for the peer with small blocks so that every
// transfer spans several writes
func testClient(t *testing.T, port int, decider ResumeDecider) (*Client, *safeBuffer) {
	t.Helper()
	cfg := config.Default()
	cfg.BlockSize = 1024
	cfg.Timeout = 2 * time.Second
	cfg.ShowProgress = false

	out := &safeBuffer{}
	return New("127.0.0.1", port, cfg, decider, progress.NewConsole(out)), out
}

// safeBuffer is a bytes.Buffer that tolerates concurrent writers
type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// writeTestFile creates a file of size bytes with a position-dependent
// pattern and returns its path and content
func writeTestFile(t *testing.T, dir, name string, size int) (string, []byte) {
	t.Helper()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i*7 + i/251)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path, content
}
