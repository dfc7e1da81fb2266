package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every configuration value of the services. Only this struct
// must be used to read configuration, no direct access to the environment
// or any other config source should be made.
type Config struct {
	AppEnv   string `env:"APP_ENV,default=dev"`
	AppName  string `env:"APP_NAME,default=reply_gateway"`
	AppDebug bool   `env:"APP_DEBUG,default=false"`

	HttpListenAddr     string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=30s"`
	MetricsListenAddr  string        `env:"METRICS_LISTEN_ADDR,default=:9100"`
	MetricsURI         string        `env:"METRICS_URI,default=/metrics"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresSSLMode       string `env:"POSTGRES_SSLMODE,default=require"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE,default=0"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=advaic:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=advaic"`

	AuthURL     string `env:"AUTH_URL"`
	AuthAnonKey string `env:"AUTH_ANON_KEY"`

	DispatcherURL     string        `env:"DISPATCHER_URL"`
	DispatcherSecret  string        `env:"DISPATCHER_SECRET"`
	DispatcherTimeout time.Duration `env:"DISPATCHER_TIMEOUT,default=20s"`

	SendLockTTL time.Duration `env:"SEND_LOCK_TTL,default=2m"`
	SendDoneTTL time.Duration `env:"SEND_DONE_TTL,default=72h"`

	StorageDriver     string        `env:"STORAGE_DRIVER,default=supabase"`
	StorageURL        string        `env:"STORAGE_URL"`
	StorageServiceKey string        `env:"STORAGE_SERVICE_KEY"`
	AttachmentBucket  string        `env:"ATTACHMENT_BUCKET,default=attachments"`
	SignedURLTTL      time.Duration `env:"SIGNED_URL_TTL,default=5m"`

	S3Region    string `env:"S3_REGION,default=eu-central-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	FeedStream string `env:"FEED_STREAM,default=changes"`
	FeedMaxLen int64  `env:"FEED_MAX_LEN,default=10000"`

	MirrorQueueName         string        `env:"MIRROR_QUEUE_NAME,default=mirror"`
	MirrorConsumerGroup     string        `env:"MIRROR_CONSUMER_GROUP,default=mirror-writers"`
	MirrorConsumerName      string        `env:"MIRROR_CONSUMER_NAME,default=processor"`
	MirrorMaxRetries        int           `env:"MIRROR_MAX_RETRIES,default=5"`
	MirrorVisibilityTimeout time.Duration `env:"MIRROR_VISIBILITY_TIMEOUT,default=30s"`
	MirrorPollInterval      time.Duration `env:"MIRROR_POLL_INTERVAL,default=1s"`
	MirrorBatchSize         int64         `env:"MIRROR_BATCH_SIZE,default=20"`
	MirrorMaxLen            int64         `env:"MIRROR_MAX_LEN,default=100000"`
	MirrorWorkers           int           `env:"MIRROR_WORKERS,default=4"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Set replaces the loaded configuration, used by tests.
func Set(c *Config) {
	config = c
}
