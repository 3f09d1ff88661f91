package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/git-pkgs/mirror/internal/core"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// S3Store keeps documents gzip-compressed in an S3 compatible bucket.
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	prefix     string
	initOnce   sync.Once
	initErr    error
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client:     client,
		bucketName: bucket,
		region:     region,
		prefix:     strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3Store) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, core.E("s3.get", core.Transport, fmt.Errorf("ensure bucket: %w", err))
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify("s3.get", err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.classify("s3.get", err)
	}
	return decompress(data)
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return core.E("s3.put", core.Transport, fmt.Errorf("ensure bucket: %w", err))
	}

	body, err := compress(data)
	if err != nil {
		return core.E("s3.put", core.Other, err)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, s.objectKey(key), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
	})
	if err != nil {
		return s.classify("s3.put", err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return core.E("s3.delete", core.Transport, fmt.Errorf("ensure bucket: %w", err))
	}
	err := s.client.RemoveObject(ctx, s.bucketName, s.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil {
		err = s.classify("s3.delete", err)
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (s *S3Store) classify(op string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
		return core.E(op, core.Overload, err)
	}
	return core.E(op, core.Transport, err)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompress tolerates objects written without compression.
func decompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, core.E("s3.decompress", core.Other, err)
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, core.E("s3.decompress", core.Other, err)
	}
	return out, nil
}
