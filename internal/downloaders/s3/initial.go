package s3

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	splithttp "github.com/tanq16/splitfetch/internal/downloaders/http"
	"github.com/tanq16/splitfetch/internal/resolve"
	"github.com/tanq16/splitfetch/internal/utils"
)

type objectResolver interface {
	Resolve(ctx context.Context, ref string) (*resolve.Object, error)
}

// S3Downloader presigns the object and hands the HTTPS URL to the range
// engine, so S3 downloads resume like any other link.
type S3Downloader struct {
	// Resolver overrides the presigning resolver.
	Resolver objectResolver
	http     splithttp.HTTPDownloader
}

func (d *S3Downloader) ValidateJob(job *utils.Job) error {
	bucket, key, err := resolve.ParseS3URL(job.URL)
	if err != nil {
		return err
	}
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}
	job.Metadata["bucket"] = bucket
	job.Metadata["key"] = key
	log.Info().Str("op", "s3/initial").Msgf("job validated for s3://%s/%s", bucket, key)
	return nil
}

func (d *S3Downloader) BuildJob(job *utils.Job) error {
	resolver := d.Resolver
	if resolver == nil {
		profile, _ := job.Metadata["profile"].(string)
		expiry, _ := job.Metadata["expiry"].(time.Duration)
		resolver = &resolve.S3Resolver{Profile: profile, Expiry: expiry}
	}
	obj, err := resolver.Resolve(context.Background(), job.URL)
	if err != nil {
		return fmt.Errorf("error presigning S3 object: %w", err)
	}
	job.Metadata["s3URL"] = job.URL
	job.URL = obj.URL

	if job.OutputPath == "" {
		job.OutputPath = obj.Name
	}
	if _, err := os.Stat(job.OutputPath); err == nil {
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	job.HTTPClientConfig.HighThreadMode = job.Connections > 5
	log.Info().Str("op", "s3/initial").Msgf("job built for s3://%s/%s", obj.Bucket, obj.Key)
	return nil
}

func (d *S3Downloader) Download(ctx context.Context, job *utils.Job) error {
	return d.http.Download(ctx, job)
}
