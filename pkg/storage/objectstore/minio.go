package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/thumbflow/pkg/apperr"
)

type minioClient struct {
	client *minio.Client
	bucket string
}

func newMinioClient(cfg Config) (Client, error) {
	cl, err := minio.New(stripScheme(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &minioClient{client: cl, bucket: cfg.Bucket}, nil
}

func (m *minioClient) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	opts := minio.PutObjectOptions{ContentType: contentType, UserMetadata: metadata}
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	return apperr.Transient("objectstore.put", key, err)
}

func (m *minioClient) Get(ctx context.Context, key string) (*Object, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.classify(key, err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat surfaces a missing key.
	info, err := obj.Stat()
	if err != nil {
		return nil, m.classify(key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.classify(key, err)
	}
	return &Object{
		Key:         key,
		Data:        data,
		ContentType: info.ContentType,
		Metadata:    info.UserMetadata,
	}, nil
}

func (m *minioClient) classify(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return apperr.NotFound("objectstore.get", key, err)
	}
	return apperr.Transient("objectstore.get", key, err)
}

func (m *minioClient) Close() error {
	return nil
}

// minio-go expects a bare host:port endpoint.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}
