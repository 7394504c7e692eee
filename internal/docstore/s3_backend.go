package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	s3OperationTimeout = 10 * time.Second
	defaultS3Key       = "focusspace/state.json"
)

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string
	// PathStyle addresses the bucket in the path, as MinIO and other
	// S3-compatible servers expect.
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3StateBackend stores the store snapshot as a single JSON object.
type S3StateBackend struct {
	opts S3Options

	initOnce sync.Once
	initErr  error
	client   s3API
}

func NewS3StateBackend(opts S3Options) (*S3StateBackend, error) {
	opts.Bucket = strings.TrimSpace(opts.Bucket)
	opts.Key = strings.TrimPrefix(strings.TrimSpace(opts.Key), "/")
	if opts.Bucket == "" {
		return nil, ErrInvalidInput
	}
	if opts.Key == "" {
		opts.Key = defaultS3Key
	}
	return &S3StateBackend{opts: opts}, nil
}

// NewS3StateBackendFromURL parses s3://bucket/key?region=..&endpoint=..&path_style=true.
// Static credentials come from FOCUSSPACE_S3_ACCESS_KEY_ID and
// FOCUSSPACE_S3_SECRET_ACCESS_KEY; otherwise the default AWS chain is used.
func NewS3StateBackendFromURL(parsed *url.URL) (*S3StateBackend, error) {
	if parsed == nil {
		return nil, ErrInvalidInput
	}
	query := parsed.Query()
	return NewS3StateBackend(S3Options{
		Bucket:          parsed.Host,
		Key:             parsed.Path,
		Region:          query.Get("region"),
		Endpoint:        query.Get("endpoint"),
		PathStyle:       query.Get("path_style") == "true",
		AccessKeyID:     os.Getenv("FOCUSSPACE_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("FOCUSSPACE_S3_SECRET_ACCESS_KEY"),
	})
}

func (b *S3StateBackend) ensureReady(ctx context.Context) error {
	b.initOnce.Do(func() {
		if b.client != nil {
			return
		}
		var loadOpts []func(*awsconfig.LoadOptions) error
		if b.opts.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(b.opts.Region))
		}
		if b.opts.AccessKeyID != "" && b.opts.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(b.opts.AccessKeyID, b.opts.SecretAccessKey, ""),
			))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			b.initErr = fmt.Errorf("loading AWS config: %w", err)
			return
		}
		b.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if b.opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(b.opts.Endpoint)
			}
			o.UsePathStyle = b.opts.PathStyle
		})
	})
	return b.initErr
}

func (b *S3StateBackend) Load() (*persistedState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3OperationTimeout)
	defer cancel()
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.opts.Key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", b.opts.Bucket, b.opts.Key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	var snapshot persistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *S3StateBackend) Save(state *persistedState) error {
	if state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s3OperationTimeout)
	defer cancel()
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.opts.Bucket),
		Key:         aws.String(b.opts.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", b.opts.Bucket, b.opts.Key, err)
	}
	return nil
}
