package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // S3-compatible services (MinIO, etc.)
	Prefix   string
	// Static credentials. Empty values fall back to the default AWS chain.
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Store keeps artifacts in an S3 or S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	config S3Config
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 artifact store: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 artifact store: loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
			// S3-compatible services often reject the default CRC trailers.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		})
	}

	return &S3Store{client: s3.NewFromConfig(awsCfg, s3Opts...), config: cfg}, nil
}

func (s *S3Store) key(digest string) string {
	return s.config.Prefix + objectName(digest)
}

func (s *S3Store) Put(ctx context.Context, a *model.ModelArtifact) (string, error) {
	ref, blob, err := Encode(a)
	if err != nil {
		return "", err
	}
	digest, _ := ParseRef(ref)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.key(digest)),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		return "", fmt.Errorf("S3 put object %s failed: %w", ref, err)
	}

	return ref, nil
}

func (s *S3Store) Get(ctx context.Context, ref string) (*model.ModelArtifact, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.key(digest)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("S3 get object %s failed: %w", ref, err)
	}
	defer func() { _ = resp.Body.Close() }()

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("S3 read body %s failed: %w", ref, err)
	}

	return Decode(ref, blob)
}
