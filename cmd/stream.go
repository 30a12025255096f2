package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/utils"
)

func newStreamCmd() *cobra.Command {
	var outputPath string
	var ffmpegPath string
	var ytdlpPath string

	cmd := &cobra.Command{
		Use:     "stream [PAGE_URL] [--output OUTPUT_PATH]",
		Short:   "Resolve a media page with yt-dlp and download its streams",
		Aliases: []string{"yt"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := newJob("stream", args[0], outputPath)
			if ffmpegPath != "" {
				job.Metadata["ffmpegPath"] = ffmpegPath
			}
			if ytdlpPath != "" {
				job.Metadata["ytdlpPath"] = ytdlpPath
			}
			return runJobs(cmd.Context(), []utils.Job{job})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: media title)")
	cmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "", "Path to the ffmpeg binary")
	cmd.Flags().StringVar(&ytdlpPath, "ytdlp", "", "Path to the yt-dlp binary")
	return cmd
}
