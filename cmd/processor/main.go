package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/advaic/reply-gateway/internal/config"
	"github.com/advaic/reply-gateway/internal/idempotency"
	"github.com/advaic/reply-gateway/internal/mirror"
	"github.com/advaic/reply-gateway/internal/processor"
	"github.com/advaic/reply-gateway/internal/queue"
	"github.com/advaic/reply-gateway/internal/repository"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/pg"
	"github.com/advaic/reply-gateway/pkg/prom"
	"github.com/advaic/reply-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting mirror processor", "version", version, "commit", commit, "date", date)

	readConf := pg.Config{
		User:     cfg.PostgresReadUser,
		Host:     cfg.PostgresReadHost,
		Port:     cfg.PostgresReadPort,
		Password: cfg.PostgresReadPassword,
		Database: cfg.PostgresReadDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	}
	writeConf := pg.Config{
		User:     cfg.PostgresWriteUser,
		Host:     cfg.PostgresWriteHost,
		Port:     cfg.PostgresWritePort,
		Password: cfg.PostgresWritePassword,
		Database: cfg.PostgresWriteDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	}

	pgDebug := cfg.AppEnv == "dev" && cfg.AppDebug
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName + "-processor",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	guard := idempotency.NewGuard(redisAdap, idempotency.Config{
		LockTTL:            cfg.SendLockTTL,
		ProcessedTTL:       cfg.SendDoneTTL,
		LockKeyPrefix:      idempotency.DefaultConfig().LockKeyPrefix,
		ProcessedKeyPrefix: idempotency.DefaultConfig().ProcessedKeyPrefix,
	})

	service := processor.NewService(redisAdap, processor.Options{
		Queue: queue.Config{
			Stream:            cfg.MirrorQueueName,
			ConsumerGroup:     cfg.MirrorConsumerGroup,
			ConsumerName:      cfg.MirrorConsumerName,
			MaxDeliveries:     int64(cfg.MirrorMaxRetries),
			VisibilityTimeout: cfg.MirrorVisibilityTimeout,
			PollInterval:      cfg.MirrorPollInterval,
			BatchSize:         cfg.MirrorBatchSize,
			MaxLen:            cfg.MirrorMaxLen,
			EnableDeadLetter:  true,
		},
		Workers: cfg.MirrorWorkers,
	})
	service.RegisterProcessor(mirror.NewProcessor(repository.NewMirrorRepository(db), guard))

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(cfg.MetricsListenAddr, cfg.MetricsURI)
	}()

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	<-c
	service.Stop()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
