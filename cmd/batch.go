package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/utils"
)

const maxConnections = 64

func newBatchCmd() *cobra.Command {
	var profile string
	var ffmpegPath string
	var ytdlpPath string

	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Long: `Process multiple downloads from a YAML file keyed by job type.

Example file:
  http:
    - link: https://example.com/file.iso
      op: images/file.iso
  av:
    - link: https://cdn.example/v.mp4
      audio: https://cdn.example/a.m4a
      op: talk.mp4
  stream:
    - link: https://video.example/watch?v=abc
  s3:
    - link: s3://bucket/archive.tar`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchFile, err := utils.ReadBatchFile(args[0])
			if err != nil {
				return err
			}
			jobs := buildJobsFromBatch(batchFile, batchOptions{profile: profile, ffmpegPath: ffmpegPath, ytdlpPath: ytdlpPath})
			if len(jobs) == 0 {
				return fmt.Errorf("no valid jobs found in the batch file")
			}
			perLink := connectionsPerLink(connections, workers)
			for i := range jobs {
				jobs[i].Connections = perLink
			}
			return runJobs(cmd.Context(), jobs)
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "AWS profile for s3 entries")
	cmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "", "Path to the ffmpeg binary for av and stream entries")
	cmd.Flags().StringVar(&ytdlpPath, "ytdlp", "", "Path to the yt-dlp binary for stream entries")
	return cmd
}

type batchOptions struct {
	profile    string
	ffmpegPath string
	ytdlpPath  string
}

// connectionsPerLink keeps the total connection count across parallel links
// under maxConnections.
func connectionsPerLink(connections, workers int) int {
	if workers > 0 && workers*connections > maxConnections {
		return max(maxConnections/workers, 1)
	}
	return connections
}

func buildJobsFromBatch(batchFile utils.BatchFile, opts batchOptions) []utils.Job {
	jobTypes := make([]string, 0, len(batchFile))
	for jobType := range batchFile {
		jobTypes = append(jobTypes, jobType)
	}
	sort.Strings(jobTypes)

	var jobs []utils.Job
	for _, jobType := range jobTypes {
		normalizedType := normalizeJobType(jobType)
		if normalizedType == "" {
			output.PrintWarning(fmt.Sprintf("%s Unknown job type '%s', skipping...", output.StyleSymbols["warning"], jobType))
			continue
		}
		for _, entry := range batchFile[jobType] {
			job := newJob(normalizedType, entry.Link, entry.OutputPath)
			switch normalizedType {
			case "av":
				job.Metadata["audioURL"] = entry.Audio
				addPath(job.Metadata, "ffmpegPath", opts.ffmpegPath)
			case "stream":
				addPath(job.Metadata, "ffmpegPath", opts.ffmpegPath)
				addPath(job.Metadata, "ytdlpPath", opts.ytdlpPath)
			case "s3":
				job.Metadata["profile"] = opts.profile
			}
			jobs = append(jobs, job)
		}
	}
	log.Debug().Str("op", "cmd/batch").Msgf("Built %d jobs from batch file", len(jobs))
	return jobs
}

func addPath(metadata map[string]any, key, value string) {
	if value != "" {
		metadata[key] = value
	}
}

func normalizeJobType(jobType string) string {
	typeMap := map[string]string{
		"http":    "http",
		"https":   "http",
		"av":      "av",
		"merge":   "av",
		"stream":  "stream",
		"youtube": "stream",
		"yt":      "stream",
		"s3":      "s3",
	}
	return typeMap[strings.ToLower(strings.TrimSpace(jobType))]
}
