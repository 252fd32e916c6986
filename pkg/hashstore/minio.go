package hashstore

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"safechain/pkg/errors"
)

// MinioConfig configures the object-storage backend.
type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET"`
	UseSSL    bool   `env:"MINIO_USE_SSL"`
}

// minioStore stores blobs in a minio/S3 bucket, object key = content address.
type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to minio and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (Store, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &minioStore{client: cli, bucket: cfg.Bucket}, nil
}

func (m *minioStore) Put(ctx context.Context, data []byte) (Address, error) {
	addr := ComputeAddress(data)

	// The bucket is append-only and keys are digests, so an existing
	// object already holds these exact bytes.
	if ok, err := m.Has(ctx, addr); err != nil {
		return "", err
	} else if ok {
		return addr, nil
	}

	_, err := m.client.PutObject(ctx, m.bucket, string(addr), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", errors.WrapCode(err, errors.CodeMediaStore, "object store write failed")
	}
	return addr, nil
}

func (m *minioStore) Get(ctx context.Context, addr Address) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, string(addr), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeMediaStore, "object store read failed")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, notFound(addr)
		}
		return nil, errors.WrapCode(err, errors.CodeMediaStore, "object store read failed")
	}
	if err := verify(addr, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (m *minioStore) Has(ctx context.Context, addr Address) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, string(addr), minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, errors.WrapCode(err, errors.CodeMediaStore, "object store stat failed")
	}
	return true, nil
}
