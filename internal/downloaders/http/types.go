package splithttp

import (
	"errors"
	"fmt"
	"time"

	"github.com/tanq16/splitfetch/internal/utils"
)

var (
	ErrProbeFailed  = errors.New("probe failed")
	ErrFinalize     = errors.New("finalization failed")
	ErrInvalidPlan  = errors.New("invalid segment plan")
	errRangeOverrun = errors.New("server sent bytes past the requested range")
)

// Range is an inclusive byte interval of the remote resource.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// RangeError reports a failed range fetch.
type RangeError struct {
	Range  Range
	Status int
	Err    error
}

func (e *RangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("range %s: unexpected status code %d", e.Range, e.Status)
	}
	return fmt.Sprintf("range %s: %v", e.Range, e.Err)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// Policy picks how the resource is split. SegmentSize wins when set.
type Policy struct {
	Segments    int
	SegmentSize int64
}

type Options struct {
	Concurrency int
	Segments    int
	SegmentSize int64
	ChunkSize   int
	Timeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = utils.DefaultConnections
	}
	if o.Segments <= 0 {
		o.Segments = o.Concurrency
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = utils.DefaultChunkSize
	}
	if o.Timeout <= 0 {
		o.Timeout = utils.DefaultTimeout
	}
	return o
}

func (o Options) policy() Policy {
	return Policy{Segments: o.Segments, SegmentSize: o.SegmentSize}
}

type Capabilities struct {
	Size           int64
	RangeSupported bool
	Filename       string
}

type Mode string

const (
	ModeRange  Mode = "range"
	ModeSingle Mode = "single"
)

type Result struct {
	Path    string
	Mode    Mode
	Total   int64
	Resumed int64
	Fetched []Range
}

type State int

const (
	StateProbing State = iota
	StateRangeMode
	StateSingleStreamMode
	StatePlanning
	StateReconciling
	StateFetching
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateRangeMode:
		return "range-mode"
	case StateSingleStreamMode:
		return "single-stream-mode"
	case StatePlanning:
		return "planning"
	case StateReconciling:
		return "reconciling"
	case StateFetching:
		return "fetching"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
