package mux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

// stderrTail is how much of ffmpeg's stderr is kept for error messages.
const stderrTail = 2048

// Muxer merges a video-only and an audio-only file into one container.
type Muxer struct {
	FFmpegPath string
	StreamFunc func(line string)
}

func EnsureFFmpeg() (string, error) {
	path, err := exec.LookPath("ffmpeg")
	if err == nil {
		return path, nil
	}
	execPath, err := os.Executable()
	if err == nil {
		ffmpegPath := filepath.Join(filepath.Dir(execPath), "ffmpeg")
		if runtime.GOOS == "windows" {
			ffmpegPath += ".exe"
		}
		if _, err := os.Stat(ffmpegPath); err == nil {
			return ffmpegPath, nil
		}
	}
	return "", fmt.Errorf("ffmpeg not found in PATH, please install manually")
}

func mergeArgs(video, audio, out string) []string {
	return []string{
		"-y",
		"-i", video,
		"-i", audio,
		"-c:v", "copy",
		"-c:a", "aac",
		out,
	}
}

// Merge copies the video stream and re-encodes audio to AAC into out.
func (m *Muxer) Merge(ctx context.Context, video, audio, out string) error {
	ffmpegPath := m.FFmpegPath
	if ffmpegPath == "" {
		var err error
		if ffmpegPath, err = EnsureFFmpeg(); err != nil {
			return err
		}
	}
	for _, in := range []string{video, audio} {
		if _, err := os.Stat(in); err != nil {
			return fmt.Errorf("merge input %s: %w", in, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, mergeArgs(video, audio, out)...)
	log.Debug().Str("op", "mux/mux").Msgf("Executing ffmpeg command: %s", cmd.String())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(lastBytes(stderr.Bytes(), stderrTail))
		log.Error().Str("op", "mux/mux").Err(err).Msg("ffmpeg merge failed")
		if tail == "" {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail)
	}
	if m.StreamFunc != nil {
		m.StreamFunc(fmt.Sprintf("Merged into %s", filepath.Base(out)))
	}
	log.Info().Str("op", "mux/mux").Msgf("Merge completed for %s", out)
	return nil
}

func lastBytes(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
