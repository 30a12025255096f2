package resolve

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

const DefaultPresignExpiry = 15 * time.Minute

// S3Resolver turns an object reference into a presigned HTTPS GET URL so the
// object can be fetched with range requests like any other link.
type S3Resolver struct {
	Profile string
	Expiry  time.Duration
	// Config overrides the shared AWS configuration when set.
	Config *aws.Config
}

// Object is a presigned S3 object.
type Object struct {
	Bucket string
	Key    string
	URL    string
	Name   string
}

func ParseS3URL(ref string) (bucket, key string, err error) {
	ref = strings.TrimPrefix(ref, "s3://")
	parts := strings.SplitN(ref, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URL format")
	}
	bucket = parts[0]
	if len(parts) > 1 {
		key = parts[1]
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("S3 URL must name an object, got %q", ref)
	}
	return bucket, key, nil
}

func (r *S3Resolver) loadConfig(ctx context.Context) (aws.Config, error) {
	if r.Config != nil {
		return *r.Config, nil
	}
	var opts []func(*config.LoadOptions) error
	if r.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(r.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("error loading AWS config: %w", err)
	}
	return cfg, nil
}

func (r *S3Resolver) Resolve(ctx context.Context, ref string) (*Object, error) {
	bucket, key, err := ParseS3URL(ref)
	if err != nil {
		return nil, err
	}
	cfg, err := r.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	expiry := r.Expiry
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	presigner := s3.NewPresignClient(s3.NewFromConfig(cfg))
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, fmt.Errorf("error presigning s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("op", "resolve/s3").Msgf("Presigned s3://%s/%s for %s", bucket, key, expiry)
	return &Object{Bucket: bucket, Key: key, URL: req.URL, Name: path.Base(key)}, nil
}
