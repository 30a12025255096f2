package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Sink receives incremental byte counts from a running download.
// Start is called once the total size (0 when unknown) and the bytes already
// on disk from a previous run are known. Add may be called from several
// goroutines.
type Sink interface {
	Start(total, completed int64)
	Add(n int64)
	Finish()
}

// Callback forwards every byte count to fn and renders nothing.
type Callback func(n int64)

func (Callback) Start(int64, int64) {}
func (Callback) Finish()            {}

func (c Callback) Add(n int64) {
	if c != nil {
		c(n)
	}
}

// Discard drops all events.
type Discard struct{}

func (Discard) Start(int64, int64) {}
func (Discard) Add(int64)          {}
func (Discard) Finish()            {}

// Terminal renders an aggregate byte progress bar.
type Terminal struct {
	Description string
	Out         io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func NewTerminal(description string) *Terminal {
	return &Terminal{Description: description, Out: os.Stderr}
}

func (t *Terminal) Start(total, completed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.Out
	if out == nil {
		out = os.Stderr
	}
	limit := total
	if limit <= 0 {
		limit = -1
	}
	t.bar = progressbar.NewOptions64(limit,
		progressbar.OptionSetDescription(t.Description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { io.WriteString(out, "\n") }),
	)
	if completed > 0 {
		_ = t.bar.Set64(completed)
	}
}

func (t *Terminal) Add(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		return
	}
	_ = t.bar.Add64(n)
}

func (t *Terminal) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		return
	}
	_ = t.bar.Finish()
}

// Counter aggregates byte counts; safe for concurrent use.
type Counter struct {
	mu        sync.Mutex
	total     int64
	completed int64
	added     int64
	finished  bool
}

func (c *Counter) Start(total, completed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = total
	c.completed = completed
}

func (c *Counter) Add(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added += n
}

func (c *Counter) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
}

// Snapshot returns the announced total, the resumed byte count, the bytes
// added since Start and whether Finish was called.
func (c *Counter) Snapshot() (total, completed, added int64, finished bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total, c.completed, c.added, c.finished
}
