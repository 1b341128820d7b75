package seclog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"shalomjobs.org/internal/ids"
)

// S3Options configures the S3 archiver. Endpoint enables path-style
// addressing for MinIO and similar servers.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Archiver writes evicted entries as JSON objects under
// <prefix>/<stream>/<yyyy>/<mm>/<dd>/<ulid>.json.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver builds an archiver from opts. Static credentials are used
// when AccessKey is set; otherwise the default AWS credential chain applies.
func NewS3Archiver(ctx context.Context, opts S3Options) (*S3Archiver, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("seclog: s3 bucket required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("seclog: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	prefix := strings.Trim(opts.Prefix, "/")
	if prefix == "" {
		prefix = "security-archive"
	}
	return &S3Archiver{client: client, bucket: opts.Bucket, prefix: prefix, now: time.Now}, nil
}

// Archive uploads entries as one object.
func (a *S3Archiver) Archive(ctx context.Context, stream Stream, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("seclog: encode archive: %w", err)
	}
	now := a.now().UTC()
	key := fmt.Sprintf("%s/%s/%s/%s.json", a.prefix, stream, now.Format("2006/01/02"), ids.NewAt(now))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("seclog: put %s: %w", key, err)
	}
	return nil
}
