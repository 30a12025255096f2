package av

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	splithttp "github.com/tanq16/splitfetch/internal/downloaders/http"
	"github.com/tanq16/splitfetch/internal/mux"
	"github.com/tanq16/splitfetch/internal/progress"
	"github.com/tanq16/splitfetch/internal/utils"
)

func (d *AVDownloader) Download(ctx context.Context, job *utils.Job) error {
	engine := splithttp.New(utils.NewHTTPClient(job.HTTPClientConfig), splithttp.Options{
		Concurrency: job.Connections,
		SegmentSize: job.SegmentSize,
		Timeout:     job.HTTPClientConfig.Timeout,
	})
	audioURL, _ := job.Metadata["audioURL"].(string)
	if audioURL == "" {
		_, err := engine.Download(ctx, job.URL, job.OutputPath, job.Progress)
		return err
	}

	videoPath, audioPath := intermediatePaths(job.OutputPath)
	stream(job, "Fetching video stream")
	if err := fetchStream(ctx, engine, job.URL, videoPath, job.Progress); err != nil {
		return fmt.Errorf("video stream: %w", err)
	}
	stream(job, "Fetching audio stream")
	if err := fetchStream(ctx, engine, audioURL, audioPath, job.Progress); err != nil {
		return fmt.Errorf("audio stream: %w", err)
	}

	ffmpegPath, _ := job.Metadata["ffmpegPath"].(string)
	muxer := &mux.Muxer{FFmpegPath: ffmpegPath, StreamFunc: job.StreamFunc}
	stream(job, "Merging streams")
	if err := muxer.Merge(ctx, videoPath, audioPath, job.OutputPath); err != nil {
		return err
	}
	for _, p := range []string{videoPath, audioPath} {
		if err := os.Remove(p); err != nil {
			log.Warn().Str("op", "av/download").Err(err).Msgf("Could not remove intermediate %s", p)
		}
	}
	log.Info().Str("op", "av/download").Msgf("Merged download completed for %s", job.OutputPath)
	return nil
}

// fetchStream downloads link into path unless a previous run already left a
// complete copy there, judged by the size the server reports.
func fetchStream(ctx context.Context, engine *splithttp.Engine, link, path string, sink progress.Sink) error {
	if info, err := os.Stat(path); err == nil {
		if _, err := os.Stat(utils.WorkingPath(path)); os.IsNotExist(err) {
			caps, err := engine.Probe(ctx, link)
			if err == nil && caps.Size > 0 && caps.Size == info.Size() {
				log.Info().Str("op", "av/download").Msgf("Reusing finished stream %s", path)
				return nil
			}
		}
	}
	_, err := engine.Download(ctx, link, path, sink)
	return err
}

func stream(job *utils.Job, line string) {
	if job.StreamFunc != nil {
		job.StreamFunc(line)
	}
}
