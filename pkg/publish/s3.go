package publish

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/pipeline"
)

// ContentType is set on every uploaded artifact.
const ContentType = "image/png"

// S3Config configures the S3 publisher.
type S3Config struct {
	Bucket string
	// Endpoint selects an S3-compatible service, e.g. a MinIO or Spaces URL.
	// Empty uses AWS.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Root is the output directory; object keys are artifact paths below it.
	Root string
}

// putter is the subset of *s3.Client the publisher needs.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads artifacts to a bucket with path-style addressing.
type S3 struct {
	client putter
	cfg    S3Config
}

var _ Publisher = (*S3)(nil)

// NewS3 creates an S3 publisher. Static credentials are used when an access
// key is configured, otherwise the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "s3 publisher requires a bucket")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})
	return &S3{client: client, cfg: cfg}, nil
}

// Publish uploads the artifact and returns its object URL.
func (p *S3) Publish(ctx context.Context, a pipeline.Artifact) (string, error) {
	key, err := Key(p.cfg.Root, a.Path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeStorage, err, "open artifact")
	}
	defer f.Close()

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(a.Size),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeStorage, err, "upload %s to bucket %s", key, p.cfg.Bucket)
	}
	return p.objectURL(key), nil
}

// objectURL returns the path-style URL of key.
func (p *S3) objectURL(key string) string {
	base := p.cfg.Endpoint
	if base == "" {
		region := p.cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		base = fmt.Sprintf("https://s3.%s.amazonaws.com", region)
	}
	return joinURL(base, "/"+p.cfg.Bucket+"/"+key)
}
