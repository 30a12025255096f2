package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/downloaders/av"
	"github.com/tanq16/splitfetch/internal/resolve"
	"github.com/tanq16/splitfetch/internal/utils"
)

type streamResolver interface {
	Resolve(ctx context.Context, page string) (*resolve.Streams, error)
}

// StreamDownloader resolves a media page to its direct video and audio
// streams with yt-dlp, then behaves like an av job.
type StreamDownloader struct {
	// Resolver overrides the yt-dlp resolver.
	Resolver streamResolver
	av       av.AVDownloader
}

func (d *StreamDownloader) ValidateJob(job *utils.Job) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	return nil
}

func (d *StreamDownloader) BuildJob(job *utils.Job) error {
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}
	resolver := d.Resolver
	if resolver == nil {
		ytdlpPath, _ := job.Metadata["ytdlpPath"].(string)
		resolver = &resolve.StreamResolver{YtdlpPath: ytdlpPath}
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout(job))
	defer cancel()
	streams, err := resolver.Resolve(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("error resolving streams: %w", err)
	}
	log.Debug().Str("op", "stream/initial").Msgf("Resolved %s to video %s and audio %s", job.URL, shorten(streams.VideoURL), shorten(streams.AudioURL))

	job.Metadata["pageURL"] = job.URL
	job.Metadata["title"] = streams.Title
	job.Metadata["audioURL"] = streams.AudioURL
	job.URL = streams.VideoURL
	if job.OutputPath == "" {
		job.OutputPath = streams.Title + ".mp4"
	}
	if err := d.av.ValidateJob(job); err != nil {
		return err
	}
	return d.av.BuildJob(job)
}

func (d *StreamDownloader) Download(ctx context.Context, job *utils.Job) error {
	return d.av.Download(ctx, job)
}

func resolveTimeout(job *utils.Job) time.Duration {
	if job.HTTPClientConfig.Timeout > 0 {
		return 2 * job.HTTPClientConfig.Timeout
	}
	return 2 * utils.DefaultTimeout
}

func shorten(link string) string {
	if i := strings.IndexByte(link, '?'); i >= 0 {
		return link[:i]
	}
	return link
}
