// Package s3 implements the pipeline stores on an S3 bucket.
//
// Object keys mirror the filesystem layout of the archive backend, with a
// configurable key prefix in place of the working directory. Payloads are
// the same Parquet documents the archive backend writes, so objects can be
// synced down and read locally without conversion.
package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/seisnoise/seisnoise/internal/errors"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g. "us-east-1").
	Region string

	// Bucket is the bucket holding the stores.
	Bucket string

	// Prefix is prepended to every key, playing the role of the working
	// directory.
	Prefix string

	// Endpoint overrides the default S3 endpoint (for S3-compatible
	// services).
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack).
	UsePathStyle bool

	// Credentials (optional, default chain is used if empty).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// OperationTimeout bounds each object operation.
	OperationTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the given bucket and region.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:           bucket,
		Region:           region,
		OperationTimeout: 30 * time.Second,
	}
}

// objectAPI is the slice of the S3 API the stores use. Tests substitute an
// in-memory implementation.
type objectAPI interface {
	GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, opts ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, opts ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Client wraps the object operations the stores need.
type Client struct {
	api     objectAPI
	bucket  string
	timeout time.Duration
}

// NewClient builds a client from cfg, using the default AWS credential
// chain unless explicit credentials are set.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api:     awss3.NewFromConfig(awsCfg, s3Opts...),
		bucket:  cfg.Bucket,
		timeout: timeout,
	}, nil
}

func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// get fetches an object's full body.
func (c *Client) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	out, err := c.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.NewNotFound("object", key)
		}
		return nil, errors.Wrapf(err, "get object %s", key)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read object %s", key)
	}
	return body, nil
}

// put uploads an object. S3 puts are atomic per key, so no temp-and-rename
// dance is needed.
func (c *Client) put(ctx context.Context, key string, body []byte) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	_, err := c.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return errors.Wrapf(err, "put object %s", key)
	}
	return nil
}

// exists reports whether a key is present.
func (c *Client) exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	_, err := c.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "head object %s", key)
	}
	return true, nil
}

// listPrefixes returns the immediate sub-prefixes under prefix, with the
// prefix and trailing slash stripped. Analogous to listing directories.
func (c *Client) listPrefixes(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := c.list(ctx, prefix, "/", func(out *awss3.ListObjectsV2Output) {
		for _, p := range out.CommonPrefixes {
			name := strings.TrimPrefix(aws.ToString(p.Prefix), prefix)
			names = append(names, strings.TrimSuffix(name, "/"))
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// listKeys returns every key under prefix, with the prefix stripped.
func (c *Client) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := c.list(ctx, prefix, "", func(out *awss3.ListObjectsV2Output) {
		for _, obj := range out.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) list(ctx context.Context, prefix, delimiter string, visit func(*awss3.ListObjectsV2Output)) error {
	in := &awss3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}
	for {
		opCtx, cancel := c.opCtx(ctx)
		out, err := c.api.ListObjectsV2(opCtx, in)
		cancel()
		if err != nil {
			return errors.Wrapf(err, "list prefix %s", prefix)
		}
		visit(out)
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
