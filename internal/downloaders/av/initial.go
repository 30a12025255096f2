package av

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/mux"
	"github.com/tanq16/splitfetch/internal/utils"
)

// AVDownloader fetches a video-only and an audio-only stream with the range
// engine and merges them with ffmpeg. Job.URL is the video stream and
// Metadata["audioURL"] the audio stream; without an audio stream the video
// is fetched straight into the output path.
type AVDownloader struct{}

func validateLink(link string) error {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	return nil
}

func (d *AVDownloader) ValidateJob(job *utils.Job) error {
	if err := validateLink(job.URL); err != nil {
		return fmt.Errorf("video stream: %w", err)
	}
	if audio, _ := job.Metadata["audioURL"].(string); audio != "" {
		if err := validateLink(audio); err != nil {
			return fmt.Errorf("audio stream: %w", err)
		}
	}
	return nil
}

func (d *AVDownloader) BuildJob(job *utils.Job) error {
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}
	if job.OutputPath == "" {
		job.OutputPath = "output.mp4"
	}
	if filepath.Ext(job.OutputPath) == "" {
		job.OutputPath += ".mp4"
	}
	if _, err := os.Stat(job.OutputPath); err == nil {
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	job.HTTPClientConfig.HighThreadMode = job.Connections > 5

	audio, _ := job.Metadata["audioURL"].(string)
	ffmpegPath, _ := job.Metadata["ffmpegPath"].(string)
	if audio != "" && ffmpegPath == "" {
		path, err := mux.EnsureFFmpeg()
		if err != nil {
			return fmt.Errorf("error ensuring ffmpeg: %v", err)
		}
		job.Metadata["ffmpegPath"] = path
	}
	log.Debug().Str("op", "av/initial").Msgf("Output path determined as %s", job.OutputPath)
	return nil
}

// intermediatePaths returns the video and audio files merged into out.
func intermediatePaths(out string) (video, audio string) {
	base := strings.TrimSuffix(out, filepath.Ext(out))
	return base + ".video.mp4", base + ".audio.m4a"
}
