package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/resolve"
	"github.com/tanq16/splitfetch/internal/utils"
)

func newS3Cmd() *cobra.Command {
	var outputPath string
	var profile string
	var expiry time.Duration

	cmd := &cobra.Command{
		Use:   "s3 [BUCKET/KEY or s3://BUCKET/KEY]",
		Short: "Download an object from AWS S3",
		Long: `Download an object from AWS S3 through a presigned URL, using the same
segmented and resumable engine as http.

Examples:
  splitfetch s3 mybucket/path/to/file.zip
  splitfetch s3 s3://mybucket/file.zip --profile myprofile`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := newJob("s3", args[0], outputPath)
			job.Metadata["profile"] = profile
			job.Metadata["expiry"] = expiry
			return runJobs(cmd.Context(), []utils.Job{job})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path")
	cmd.Flags().StringVar(&profile, "profile", "", "AWS profile to use")
	cmd.Flags().DurationVar(&expiry, "expiry", resolve.DefaultPresignExpiry, "Lifetime of the presigned URL")
	return cmd
}
