package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/unveilhq/guest-messenger/internal/config"
	gateway "github.com/unveilhq/guest-messenger/internal/gateways"
	"github.com/unveilhq/guest-messenger/internal/handlers"
	"github.com/unveilhq/guest-messenger/internal/processor"
	"github.com/unveilhq/guest-messenger/internal/repository"
	"github.com/unveilhq/guest-messenger/internal/services"
	xhttp "github.com/unveilhq/guest-messenger/pkg/http"
	"github.com/unveilhq/guest-messenger/pkg/logger"
	"github.com/unveilhq/guest-messenger/pkg/pg"
	"github.com/unveilhq/guest-messenger/pkg/prom"
	"github.com/unveilhq/guest-messenger/pkg/redis"
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

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 30))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	smsGateway, err := gateway.NewSMSGateway(&gateway.Config{
		Providers: []gateway.ProviderConfig{
			{Name: "primary", URL: config.Get().ProviderPrimaryUrl, Weight: 100},
			{Name: "secondary", URL: config.Get().ProviderSecondaryUrl, Weight: 80},
			{Name: "backup", URL: config.Get().ProviderBackupUrl, Weight: 60},
		},
		Timeout:                 time.Second * 5,
		MaxRetries:              3,
		RetryDelay:              time.Millisecond * 100,
		MaxConns:                1000,
		ReadBufferSize:          1024 * 4,
		WriteBufferSize:         1024 * 4,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
		BulkWorkers:             config.Get().SMSDispatchWorkers,
	})
	if err != nil {
		logger.Error("failed to create sms gateway", "error", err)
		return
	}
	defer smsGateway.Close()

	// repositories
	guestRepo := repository.NewGuestRepository(db)
	scheduledRepo := repository.NewScheduledMessageRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)

	// services
	recipientService := services.NewRecipientService(guestRepo)
	messageService := services.NewMessageService(scheduledRepo, messageRepo)

	leaseConfig := processor.DefaultLeaseConfig()
	leaseConfig.LockTTL = config.Get().ScheduledLeaseTTL
	leaseService := processor.NewLeaseService(redisAdap, leaseConfig)

	scheduledProcessor := processor.NewScheduledProcessor(
		scheduledRepo,
		messageRepo,
		deliveryRepo,
		recipientService,
		smsGateway,
		leaseService,
		config.Get().ScheduledStaleAfter,
	)

	// handlers
	messageHandler := handlers.NewMessageHandler(messageService)
	cronHandler := handlers.NewCronHandler(scheduledProcessor, scheduledRepo, handlers.CronConfig{
		Secret:     config.Get().CronSecret,
		Production: config.Get().IsProduction(),
		BatchLimit: config.Get().ScheduledBatchLimit,
	})
	healthHandler := handlers.NewHealthHandler(nil)

	g := s.Router.Group("/api")
	handlers.RegisterMessageRoutes(g, messageHandler)
	handlers.RegisterCronRoutes(g, cronHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	if config.Get().AppDebugMetricsAddr != "" {
		go func() {
			prom.ListenAndServer(config.Get().AppDebugMetricsAddr, config.Get().AppDebugMetricsURI)
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
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
