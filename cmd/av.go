package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/utils"
)

func newAVCmd() *cobra.Command {
	var outputPath string
	var ffmpegPath string

	cmd := &cobra.Command{
		Use:   "av [VIDEO_URL] [AUDIO_URL] [--output OUTPUT_PATH]",
		Short: "Download separate video and audio streams and merge them with ffmpeg",
		Long: `Download a video-only and an audio-only stream in parallel segments, then merge
them into one file (video copied, audio encoded to AAC).

Examples:
  splitfetch av https://cdn.example/v.mp4 https://cdn.example/a.m4a -o talk.mp4
  splitfetch av https://cdn.example/v.mp4 https://cdn.example/a.m4a --ffmpeg /opt/ffmpeg/bin/ffmpeg`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := newJob("av", args[0], outputPath)
			job.Metadata["audioURL"] = args[1]
			if ffmpegPath != "" {
				job.Metadata["ffmpegPath"] = ffmpegPath
			}
			return runJobs(cmd.Context(), []utils.Job{job})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default output.mp4)")
	cmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "", "Path to the ffmpeg binary")
	return cmd
}
