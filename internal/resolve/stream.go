package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNoVideo = errors.New("no video stream found")

var titleRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// Streams holds the direct media URLs behind a page.
type Streams struct {
	VideoURL string
	AudioURL string
	Title    string
}

type ytdlpFormat struct {
	URL    string `json:"url"`
	VCodec string `json:"vcodec"`
	ACodec string `json:"acodec"`
}

type ytdlpInfo struct {
	Title   string        `json:"title"`
	Formats []ytdlpFormat `json:"formats"`
}

// StreamResolver asks yt-dlp for the formats of a page without downloading.
type StreamResolver struct {
	YtdlpPath string
}

func EnsureYtdlp() (string, error) {
	path, err := exec.LookPath("yt-dlp")
	if err == nil {
		return path, nil
	}
	execPath, err := os.Executable()
	if err == nil {
		ytdlpPath := filepath.Join(filepath.Dir(execPath), "yt-dlp")
		if runtime.GOOS == "windows" {
			ytdlpPath += ".exe"
		}
		if _, err := os.Stat(ytdlpPath); err == nil {
			return ytdlpPath, nil
		}
	}
	return "", fmt.Errorf("yt-dlp not found in PATH, please install manually")
}

func (s *StreamResolver) Resolve(ctx context.Context, page string) (*Streams, error) {
	ytdlpPath := s.YtdlpPath
	if ytdlpPath == "" {
		var err error
		if ytdlpPath, err = EnsureYtdlp(); err != nil {
			return nil, err
		}
	}
	cmd := exec.CommandContext(ctx, ytdlpPath, "--dump-single-json", "--no-playlist", "--no-warnings", page)
	log.Debug().Str("op", "resolve/stream").Msgf("Executing yt-dlp command: %s", cmd.String())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		log.Error().Str("op", "resolve/stream").Err(err).Msg("yt-dlp command failed")
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("yt-dlp failed: %w", err)
	}
	streams, err := parseStreams(out)
	if err != nil {
		return nil, err
	}
	log.Info().Str("op", "resolve/stream").Msgf("Resolved streams for %q", streams.Title)
	return streams, nil
}

// parseStreams picks the first format carrying video and the first
// audio-only format.
func parseStreams(data []byte) (*Streams, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("error decoding yt-dlp output: %w", err)
	}
	streams := &Streams{Title: sanitizeTitle(info.Title)}
	for _, f := range info.Formats {
		if f.URL == "" {
			continue
		}
		if streams.VideoURL == "" && f.VCodec != "none" {
			streams.VideoURL = f.URL
		}
		if streams.AudioURL == "" && f.ACodec != "none" && f.VCodec == "none" {
			streams.AudioURL = f.URL
		}
	}
	if streams.VideoURL == "" {
		return nil, ErrNoVideo
	}
	return streams, nil
}

func sanitizeTitle(title string) string {
	title = strings.TrimSpace(titleRegex.ReplaceAllString(title, "_"))
	if title == "" {
		return "output"
	}
	return title
}
