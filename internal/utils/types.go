package utils

import (
	"context"

	"github.com/tanq16/splitfetch/internal/progress"
)

type Downloader interface {
	ValidateJob(job *Job) error
	BuildJob(job *Job) error
	Download(ctx context.Context, job *Job) error
}

type Job struct {
	ID               string
	JobType          string
	URL              string
	OutputPath       string
	Connections      int
	SegmentSize      int64
	Progress         progress.Sink
	StreamFunc       func(line string)
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}

type DownloadEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
	// Audio is the audio stream of an av entry.
	Audio string `yaml:"audio,omitempty"`
}

// BatchFile maps a job type to its entries.
type BatchFile map[string][]DownloadEntry
