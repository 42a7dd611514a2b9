package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"vidingest/internal/config"
)

// S3 stores objects in an S3-compatible bucket such as MinIO.
type S3 struct {
	client    *minio.Client
	bucket    string
	prefix    string
	baseURL   string
	overwrite bool
}

// NewS3 builds a client for cfg.Endpoint. The endpoint may be a bare host or a
// URL; an https scheme enables TLS regardless of UseSSL.
func NewS3(cfg config.Storage) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return &S3{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		baseURL:   scheme + "://" + host,
		overwrite: cfg.Overwrite,
	}, nil
}

func parseEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, errors.New("s3: endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), useSSL, nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("s3: parse endpoint %q: %w", endpoint, err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("s3: endpoint %q has no host", endpoint)
	}
	return parsed.Host, parsed.Scheme == "https" || useSSL, nil
}

func (s *S3) Bucket() string { return s.bucket }

func (s *S3) URI(key string) string {
	return httpURI(s.baseURL, s.bucket, joinKey(s.prefix, key))
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, joinKey(s.prefix, key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3: stat %s: %w", key, classifyMinioError(err))
}

func (s *S3) Put(ctx context.Context, localPath, key string) (string, error) {
	if !s.overwrite {
		exists, err := s.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if exists {
			return s.URI(key), ErrExists
		}
	}
	_, err := s.client.FPutObject(ctx, s.bucket, joinKey(s.prefix, key), localPath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return "", fmt.Errorf("s3: upload %s: %w", key, classifyMinioError(err))
	}
	return s.URI(key), nil
}

func (s *S3) Get(ctx context.Context, key, localPath string) error {
	obj, err := s.client.GetObject(ctx, s.bucket, joinKey(s.prefix, key), minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("s3: open %s: %w", key, classifyMinioError(err))
	}
	defer obj.Close()
	// GetObject is lazy; the first read surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("s3: %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("s3: stat %s: %w", key, classifyMinioError(err))
	}
	return writeFileAtomic(localPath, obj)
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    joinKey(s.prefix, prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, classifyMinioError(obj.Err))
		}
		keys = append(keys, trimPrefix(s.prefix, obj.Key))
	}
	return keys, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, joinKey(s.prefix, key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3: delete %s: %w", key, classifyMinioError(err))
	}
	return nil
}

func (s *S3) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("s3: bucket %s: %w", s.bucket, classifyMinioError(err))
	}
	if !ok {
		return fmt.Errorf("s3: bucket %s does not exist", s.bucket)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func classifyMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchBucket":
		return fmt.Errorf("bucket not found: %w", err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("access denied: %w", err)
	default:
		return err
	}
}
