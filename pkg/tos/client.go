// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tos downloads objects from the platform's object store through
// its S3-compatible endpoint.
package tos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
)

// Scheme is the URL scheme that addresses objects in the store.
const Scheme = "tos"

// DefaultEndpoint is the S3-compatible endpoint of the default region.
const DefaultEndpoint = "https://tos-s3-cn-beijing.volces.com"

const (
	defaultPartSize = 64 * 1024 * 1024
	maxIdleConns    = 100
)

var (
	// ErrObjectNotFound is returned when the bucket has no such key.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credential may not read the object.
	ErrAccessDenied = errors.New("access denied")
)

// Client downloads objects for one credential.
type Client struct {
	s3         *s3.Client
	downloader *manager.Downloader
	endpoint   string
	region     string
	logger     *zap.Logger
}

type options struct {
	endpoint string
	region   string
	httpc    *http.Client
	logger   *zap.Logger
	partSize int64
}

// Option configures a Client.
type Option func(*options)

// WithEndpoint sets the S3-compatible endpoint.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		if endpoint != "" {
			o.endpoint = strings.TrimSuffix(endpoint, "/")
		}
	}
}

// WithRegion overrides the credential's region.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(o *options) { o.httpc = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPartSize sets the ranged-GET size used by the downloader.
func WithPartSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.partSize = n
		}
	}
}

// New builds a client borrowing cred.
func New(cred credential.Credential, opts ...Option) *Client {
	o := &options{
		endpoint: DefaultEndpoint,
		region:   cred.RegionOrDefault(),
		logger:   zap.NewNop(),
		partSize: defaultPartSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpc == nil {
		o.httpc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        maxIdleConns,
				MaxIdleConnsPerHost: maxIdleConns,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var provider aws.CredentialsProvider = aws.AnonymousCredentials{}
	if !cred.IsZero() {
		provider = credentials.NewStaticCredentialsProvider(cred.AccessKeyID, cred.SecretAccessKey, cred.SessionToken)
	}

	client := s3.New(s3.Options{
		Region:                     o.region,
		Credentials:                provider,
		BaseEndpoint:               aws.String(o.endpoint),
		UsePathStyle:               true,
		HTTPClient:                 o.httpc,
		Retryer:                    aws.NopRetryer{},
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})

	// One part in flight at a time: files are transferred sequentially.
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = o.partSize
		d.Concurrency = 1
	})

	return &Client{
		s3:         client,
		downloader: downloader,
		endpoint:   o.endpoint,
		region:     o.region,
		logger:     o.logger.With(zap.String("component", "tos")),
	}
}

// Endpoint returns the configured endpoint.
func (c *Client) Endpoint() string { return c.endpoint }

// DownloadFile writes the object bucket/key to dst, truncating any
// existing file. A partially written file is left behind on failure.
func (c *Client) DownloadFile(ctx context.Context, dst, bucket, key string) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("download tos://%s/%s: bucket and key are required", bucket, key)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer f.Close()

	start := time.Now()
	n, err := c.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrapError(err, fmt.Sprintf("download tos://%s/%s", bucket, key))
	}

	c.logger.Debug("object downloaded",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.String("dst", dst),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// wrapError adds context to S3 errors and maps well-known codes to
// sentinel errors. The original error stays in the chain.
func wrapError(err error, msg string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w: %w", msg, ErrObjectNotFound, err)
		case "NoSuchBucket":
			return fmt.Errorf("%s: %w: %w", msg, ErrBucketNotFound, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%s: %w: %w", msg, ErrAccessDenied, err)
		default:
			return fmt.Errorf("%s: %s: %w", msg, apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
