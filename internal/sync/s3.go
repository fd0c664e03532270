package sync

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultS3Key is the object key used when S3Config.Key is empty.
const DefaultS3Key = "paramgraph/workbooks.jsonl"

const jsonlContentType = "application/x-ndjson"

// S3Config locates the export object. A non-empty Endpoint selects
// path-style addressing, as MinIO and similar stores expect.
type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string
}

// objectPutter is the part of *s3.Client the destination needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination overwrites a single object with each export. The object
// metadata records the export format and a digest of the export body that
// ignores the header timestamp, so two objects can be compared without
// downloading them.
type S3Destination struct {
	api objectPutter
	cfg S3Config
}

func NewS3Destination(ctx context.Context, cfg S3Config) (*S3Destination, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 destination: bucket is required")
	}
	if cfg.Key == "" {
		cfg.Key = DefaultS3Key
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{api: api, cfg: cfg}, nil
}

func (d *S3Destination) Name() string {
	return "s3://" + d.cfg.Bucket + "/" + d.cfg.Key
}

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	sum := contentHash(data)
	_, err := d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.cfg.Bucket),
		Key:           aws.String(d.cfg.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(jsonlContentType),
		Metadata: map[string]string{
			"paramgraph-format":  FormatVersion,
			"paramgraph-content": hex.EncodeToString(sum[:]),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", d.Name(), err)
	}
	return nil
}
