package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for a thumbflow process.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Kafka   KafkaConfig
	Storage StorageConfig
	Queue   QueueConfig
	Redis   RedisConfig
	Worker  WorkerConfig
	Retry   RetryConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Upload  UploadConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"thumbflow"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"APP_LOG_FORMAT" envDefault:"json"`
}

type HTTPConfig struct {
	Addr           string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"2m"`
	// PublicURL prefixes the url returned by uploads. Empty yields a relative path.
	PublicURL string `env:"HTTP_PUBLIC_URL"`
}

// KafkaConfig configures pipeline event publishing. An empty broker list
// disables publishing.
type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:","`
	EventsTopic      string        `env:"KAFKA_EVENTS_TOPIC" envDefault:"thumbflow.events"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
	WriteTimeout     time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`
}

type StorageConfig struct {
	Provider  string        `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string        `env:"STORAGE_ENDPOINT" envDefault:"http://localhost:9000"`
	Region    string        `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string        `env:"STORAGE_BUCKET" envDefault:"thumbflow-images"`
	AccessKey string        `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string        `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool          `env:"STORAGE_USE_SSL" envDefault:"false"`
	OpTimeout time.Duration `env:"STORAGE_OP_TIMEOUT" envDefault:"10s"`
}

type QueueConfig struct {
	Backend           string        `env:"QUEUE_BACKEND" envDefault:"redis"`
	VisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" envDefault:"30s"`
	MaxAttempts       int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	BatchSize         int           `env:"QUEUE_BATCH_SIZE" envDefault:"10"`
	OpTimeout         time.Duration `env:"QUEUE_OP_TIMEOUT" envDefault:"5s"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Stream   string `env:"REDIS_STREAM" envDefault:"thumbflow:derivations"`
	Group    string `env:"REDIS_GROUP" envDefault:"derivers"`
	Consumer string `env:"REDIS_CONSUMER"`
}

type WorkerConfig struct {
	// Embedded runs the worker pool inside the API process.
	Embedded     bool          `env:"WORKER_EMBEDDED" envDefault:"false"`
	Concurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"500ms"`
	TaskTimeout  time.Duration `env:"WORKER_TASK_TIMEOUT" envDefault:"20s"`
	Transform    string        `env:"WORKER_TRANSFORM" envDefault:"passthrough"`
	ThumbWidth   int           `env:"WORKER_THUMB_WIDTH" envDefault:"200"`
	ThumbHeight  int           `env:"WORKER_THUMB_HEIGHT" envDefault:"200"`
}

type RetryConfig struct {
	MaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	InitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"100ms"`
	MaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"2s"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=thumbflow"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9102"`
}

type UploadConfig struct {
	MaxSizeBytes      int64 `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"52428800"`
	MultipartMemBytes int64 `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"8388608"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations that would break delivery guarantees.
func (c *Config) Validate() error {
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be positive, got %d", c.Queue.BatchSize)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be positive, got %d", c.Queue.MaxAttempts)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.TaskTimeout >= c.Queue.VisibilityTimeout {
		return fmt.Errorf("WORKER_TASK_TIMEOUT (%s) must be shorter than QUEUE_VISIBILITY_TIMEOUT (%s)",
			c.Worker.TaskTimeout, c.Queue.VisibilityTimeout)
	}
	return nil
}
