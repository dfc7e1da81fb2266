package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/advaic/reply-gateway/internal/auth"
	"github.com/advaic/reply-gateway/internal/config"
	"github.com/advaic/reply-gateway/internal/dispatcher"
	"github.com/advaic/reply-gateway/internal/feed"
	"github.com/advaic/reply-gateway/internal/handlers"
	"github.com/advaic/reply-gateway/internal/idempotency"
	"github.com/advaic/reply-gateway/internal/mirror"
	"github.com/advaic/reply-gateway/internal/queue"
	"github.com/advaic/reply-gateway/internal/repository"
	"github.com/advaic/reply-gateway/internal/services"
	"github.com/advaic/reply-gateway/internal/storage"
	xhttp "github.com/advaic/reply-gateway/pkg/http"
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
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

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
		ClientName: cfg.AppName,
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.MetricsListenAddr, cfg.MetricsURI)

	dispatchClient, err := dispatcher.NewClient(dispatcher.Config{
		URL:              cfg.DispatcherURL,
		Secret:           cfg.DispatcherSecret,
		Timeout:          cfg.DispatcherTimeout,
		CircuitThreshold: 5,
		CircuitTimeout:   30 * time.Second,
		MaxConns:         256,
	})
	if err != nil {
		logger.Error("failed to create dispatcher client", "error", err)
		return
	}

	store, err := storage.New(storage.Config{
		Driver:      cfg.StorageDriver,
		URL:         cfg.StorageURL,
		ServiceKey:  cfg.StorageServiceKey,
		Timeout:     10 * time.Second,
		S3Region:    cfg.S3Region,
		S3Endpoint:  cfg.S3Endpoint,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		logger.Error("failed to create attachment store", "error", err)
		return
	}

	guard := idempotency.NewGuard(redisAdap, idempotency.Config{
		LockTTL:            cfg.SendLockTTL,
		ProcessedTTL:       cfg.SendDoneTTL,
		LockKeyPrefix:      idempotency.DefaultConfig().LockKeyPrefix,
		ProcessedKeyPrefix: idempotency.DefaultConfig().ProcessedKeyPrefix,
	})

	mirrorPublisher := mirror.NewAsyncPublisher(
		queue.NewProducer(redisAdap, cfg.MirrorQueueName, cfg.MirrorMaxLen),
		cfg.MirrorWorkers,
		1024,
	)
	mirrorPublisher.Start()

	changes := feed.NewPublisher(redisAdap, cfg.FeedStream, cfg.FeedMaxLen)

	messageRepo := repository.NewMessageRepository(db)
	leadRepo := repository.NewLeadRepository(db)

	// services
	approvalService := services.NewApprovalService(messageRepo, leadRepo, dispatchClient, guard, mirrorPublisher, changes, cfg.SendLockTTL)
	leadService := services.NewLeadService(leadRepo, changes)
	attachmentService := services.NewAttachmentService(store, messageRepo, cfg.AttachmentBucket, cfg.SignedURLTTL, cfg.SendLockTTL)
	healthService := services.NewHealthService(db, redisAdap, dispatchClient)

	// v1 handlers
	mw := auth.Middleware(auth.NewSupabaseResolver(cfg.AuthURL, cfg.AuthAnonKey, 5*time.Second))

	g := s.Router.Group("/api/v1")
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(healthService))
	handlers.RegisterApprovalRoutes(g, handlers.NewApprovalHandler(approvalService), mw)
	handlers.RegisterAttachmentRoutes(g, handlers.NewAttachmentHandler(attachmentService), mw)
	handlers.RegisterLeadRoutes(g, handlers.NewLeadHandler(leadService), mw)
	handlers.RegisterChangesRoutes(g, handlers.NewChangesHandler(feed.NewReader(redisAdap, cfg.FeedStream)), mw)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	logger.Info("shutting down api")
	s.Shutdown()
	mirrorPublisher.Close()
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
