package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AK1OS/file-transfer/internal/logging"
)

// logEvery is how often the reporter mirrors progress into the log
const logEvery = 10 * time.Second

// Stats holds transfer statistics shared by every worker of one transfer.
// TotalSent never decreases and CompletedChunks is incremented once per
// successfully acknowledged chunk.
type Stats struct {
	TotalSent       atomic.Int64
	CompletedChunks atomic.Int32
	FileSize        int64
	TotalChunks     int
	BaseOffset      int64 // bytes already on the server when the transfer started
	StartTime       time.Time
	Filename        string
}

// NewStats creates statistics for a transfer starting now
func NewStats(filename string, fileSize int64, totalChunks int) *Stats {
	return &Stats{
		FileSize:    fileSize,
		TotalChunks: totalChunks,
		StartTime:   time.Now(),
		Filename:    filename,
	}
}

// AddSent atomically adds to the sent byte count
func (s *Stats) AddSent(bytes int64) {
	if bytes > 0 {
		s.TotalSent.Add(bytes)
	}
}

// SetSent raises the sent byte count to bytes; lower values are ignored
func (s *Stats) SetSent(bytes int64) {
	for {
		current := s.TotalSent.Load()
		if bytes <= current || s.TotalSent.CompareAndSwap(current, bytes) {
			return
		}
	}
}

// Sent atomically gets the sent byte count
func (s *Stats) Sent() int64 {
	return s.TotalSent.Load()
}

// CompleteChunk records one finished chunk and returns the new count
func (s *Stats) CompleteChunk() int32 {
	return s.CompletedChunks.Add(1)
}

// Completed returns the number of finished chunks
func (s *Stats) Completed() int32 {
	return s.CompletedChunks.Load()
}

// Percent returns the share of the file sent so far
func (s *Stats) Percent() float64 {
	if s.FileSize <= 0 {
		return 100
	}
	return float64(s.Sent()) / float64(s.FileSize) * 100
}

// ThroughputKBps returns the KB/s achieved since StartTime, not counting
// BaseOffset
func (s *Stats) ThroughputKBps() float64 {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Sent()-s.BaseOffset) / 1024 / elapsed
}

// Line formats the current progress for the console
func (s *Stats) Line() string {
	line := fmt.Sprintf("Progress: %.1f%%, speed: %.2f KB/s", s.Percent(), s.ThroughputKBps())
	if s.TotalChunks > 0 {
		line += fmt.Sprintf(", chunks: %d/%d", s.Completed(), s.TotalChunks)
	}
	return line
}

// Console serializes output from concurrent workers so that progress lines
// and messages never interleave.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	inFlight bool // a \r progress line is on screen
}

// NewConsole creates a console writing to out
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Progress overwrites the current line
func (c *Console) Progress(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\r%s", line)
	c.inFlight = true
}

// Println prints a full line, moving past any progress line first
func (c *Console) Println(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		fmt.Fprintln(c.out)
		c.inFlight = false
	}
	fmt.Fprintf(c.out, strings.TrimRight(format, "\n")+"\n", args...)
}

// EndProgress terminates a progress line if one is on screen
func (c *Console) EndProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		fmt.Fprintln(c.out)
		c.inFlight = false
	}
}

// Reporter handles progress reporting
type Reporter struct {
	stats       *Stats
	console     *Console
	interval    time.Duration
	done        chan struct{}
	stopped     chan struct{}
	stopOnce    sync.Once
	started     bool
	showConsole bool
	lastLog     time.Time
}

// NewReporter creates a new progress reporter
func NewReporter(stats *Stats, console *Console, interval time.Duration, showConsole bool) *Reporter {
	return &Reporter{
		stats:       stats,
		console:     console,
		interval:    interval,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		showConsole: showConsole,
		lastLog:     time.Now(),
	}
}

// Interval returns the refresh interval
func (r *Reporter) Interval() time.Duration {
	return r.interval
}

// Start begins periodic reporting in the background
func (r *Reporter) Start() {
	r.started = true
	go r.reportLoop()
}

// Stop stops background reporting and renders a final line
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		if r.started {
			<-r.stopped
		}
		r.Render()
		if r.showConsole {
			r.console.EndProgress()
		}
	})
}

func (r *Reporter) reportLoop() {
	defer close(r.stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Render()
		case <-r.done:
			return
		}
	}
}

// Render displays the current progress once. It is also called directly by
// coordinators that run their own polling loop.
func (r *Reporter) Render() {
	now := time.Now()
	if now.Sub(r.lastLog) >= logEvery {
		logging.LogTransferProgress(r.stats.Filename, r.stats.Sent(), r.stats.FileSize, r.stats.ThroughputKBps())
		r.lastLog = now
	}

	if r.showConsole {
		r.console.Progress(r.stats.Line())
	}
}
