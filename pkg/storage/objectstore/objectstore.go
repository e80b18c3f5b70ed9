package objectstore

import (
	"context"
	"fmt"
	"time"
)

// Config contains the information required to talk to an object store.
type Config struct {
	Provider  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// OpTimeout bounds every Put and Get. Zero disables the bound.
	OpTimeout time.Duration
}

// Object is a blob read back from the store.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// Client represents the capabilities the pipeline expects from blob storage.
// Put overwrites any existing object under key. Get returns an error of kind
// apperr.ErrNotFound when the key is absent.
type Client interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) (*Object, error)
	Close() error
}

// New creates an object store client based on the given configuration.
func New(ctx context.Context, cfg Config) (Client, error) {
	var (
		cl  Client
		err error
	)
	switch cfg.Provider {
	case "minio":
		cl, err = newMinioClient(cfg)
	case "s3":
		cl, err = newS3Client(ctx, cfg)
	case "memory":
		cl = NewMemory()
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(cl, cfg.OpTimeout), nil
}

type timeoutClient struct {
	Client
	timeout time.Duration
}

// WithTimeout bounds each call on cl by timeout.
func WithTimeout(cl Client, timeout time.Duration) Client {
	if timeout <= 0 {
		return cl
	}
	return &timeoutClient{Client: cl, timeout: timeout}
}

func (t *timeoutClient) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.Put(ctx, key, data, contentType, metadata)
}

func (t *timeoutClient) Get(ctx context.Context, key string) (*Object, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.Get(ctx, key)
}
