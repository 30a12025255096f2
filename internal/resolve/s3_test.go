package resolve

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		ref        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"s3://bucket/path/to/file.bin", "bucket", "path/to/file.bin", false},
		{"bucket/file.bin", "bucket", "file.bin", false},
		{"s3://bucket", "", "", true},
		{"s3://bucket/folder/", "", "", true},
		{"s3:///key", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, key, err := ParseS3URL(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseS3URL(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("ParseS3URL(%q) = %q, %q", tt.ref, bucket, key)
			}
		})
	}
}

func TestS3ResolverPresigns(t *testing.T) {
	cfg := aws.Config{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
		}),
	}
	r := &S3Resolver{Config: &cfg, Expiry: 5 * time.Minute}
	obj, err := r.Resolve(context.Background(), "s3://media-bucket/videos/clip.mp4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if obj.Name != "clip.mp4" || obj.Bucket != "media-bucket" || obj.Key != "videos/clip.mp4" {
		t.Errorf("unexpected object %+v", obj)
	}
	u, err := url.Parse(obj.URL)
	if err != nil {
		t.Fatalf("presigned URL does not parse: %v", err)
	}
	if u.Scheme != "https" {
		t.Errorf("expected https, got %s", u.Scheme)
	}
	if !strings.Contains(u.Host+u.Path, "media-bucket") || !strings.HasSuffix(u.Path, "/videos/clip.mp4") {
		t.Errorf("unexpected presigned location %s", obj.URL)
	}
	q := u.Query()
	if q.Get("X-Amz-Signature") == "" {
		t.Error("expected a signature in the presigned URL")
	}
	if q.Get("X-Amz-Expires") != "300" {
		t.Errorf("expected 300s expiry, got %q", q.Get("X-Amz-Expires"))
	}
}
