package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/Octogonapus/QueryBenchmark/report"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Uploader is the part of manager.Uploader the publisher needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// BucketCreator is the part of s3.Client the publisher needs.
type BucketCreator interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type S3PublisherInput struct {
	AwsConfig    aws.Config
	Bucket       string
	KeyPrefix    string
	CreateBucket bool // create the bucket on first publish if it doesn't exist

	// Optional, built from AwsConfig when nil.
	Uploader Uploader
	Client   BucketCreator
}

// S3Publisher uploads the report to s3://Bucket/KeyPrefix/<run id>.json.
type S3Publisher struct {
	input         *S3PublisherInput
	bucketChecked bool
}

func NewS3Publisher(input *S3PublisherInput) *S3Publisher {
	if input.Client == nil || input.Uploader == nil {
		client := s3.NewFromConfig(input.AwsConfig)
		if input.Client == nil {
			input.Client = client
		}
		if input.Uploader == nil {
			input.Uploader = manager.NewUploader(client)
		}
	}
	return &S3Publisher{input: input}
}

func (p *S3Publisher) Key(rep *report.BenchmarkReport) string {
	name := rep.RunID
	if name == "" {
		name = rep.Name
	}
	return path.Join(p.input.KeyPrefix, name+".json")
}

func (p *S3Publisher) Publish(ctx context.Context, rep *report.BenchmarkReport) error {
	if p.input.CreateBucket && !p.bucketChecked {
		err := p.ensureBucket(ctx)
		if err != nil {
			return err
		}
		p.bucketChecked = true
	}

	b, err := encodeReport(rep)
	if err != nil {
		return err
	}
	key := p.Key(rep)
	_, err = p.input.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &p.input.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		slog.Error("failed to upload report", slog.String("bucket", p.input.Bucket), slog.String("key", key), slog.String("error", err.Error()))
		return fmt.Errorf("uploading report to s3://%s/%s failed: %w", p.input.Bucket, key, err)
	}
	slog.Info("uploaded report", slog.String("bucket", p.input.Bucket), slog.String("key", key))
	return nil
}

func (p *S3Publisher) ensureBucket(ctx context.Context) error {
	in := &s3.CreateBucketInput{
		Bucket: &p.input.Bucket,
		ACL:    s3Types.BucketCannedACLPrivate,
	}
	// us-east-1 rejects an explicit location constraint
	if p.input.AwsConfig.Region != "" && p.input.AwsConfig.Region != "us-east-1" {
		in.CreateBucketConfiguration = &s3Types.CreateBucketConfiguration{
			LocationConstraint: s3Types.BucketLocationConstraint(p.input.AwsConfig.Region),
		}
	}
	_, err := p.input.Client.CreateBucket(ctx, in)
	var owned *s3Types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		slog.Debug("bucket already exists", slog.String("name", p.input.Bucket))
		return nil
	} else if err != nil {
		return fmt.Errorf("creating bucket %s failed: %w", p.input.Bucket, err)
	}
	slog.Debug("created bucket", slog.String("name", p.input.Bucket))
	return nil
}
