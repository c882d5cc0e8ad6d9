package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/unveilhq/guest-messenger/internal/config"
	gateway "github.com/unveilhq/guest-messenger/internal/gateways"
	"github.com/unveilhq/guest-messenger/internal/processor"
	"github.com/unveilhq/guest-messenger/internal/repository"
	"github.com/unveilhq/guest-messenger/internal/services"
	"github.com/unveilhq/guest-messenger/pkg/logger"
	"github.com/unveilhq/guest-messenger/pkg/pg"
	"github.com/unveilhq/guest-messenger/pkg/prom"
	"github.com/unveilhq/guest-messenger/pkg/redis"
)

// Standalone tick runner for deployments without an external cron hitting
// the http entry point. Runs one tick per interval until signalled.
func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

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

	db, err := pg.CreateReadWrite(readConf, writeConf, config.Get().AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "processor",
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

	guestRepo := repository.NewGuestRepository(db)
	scheduledRepo := repository.NewScheduledMessageRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)

	recipientService := services.NewRecipientService(guestRepo)

	leaseConfig := processor.DefaultLeaseConfig()
	leaseConfig.LockTTL = config.Get().ScheduledLeaseTTL
	leaseService := processor.NewLeaseService(redisAdap, leaseConfig)

	proc := processor.NewScheduledProcessor(
		scheduledRepo,
		messageRepo,
		deliveryRepo,
		recipientService,
		smsGateway,
		leaseService,
		config.Get().ScheduledStaleAfter,
	)

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

	interval := tickInterval()
	logger.Info("processor started", "interval", interval.String(), "batch_limit", config.Get().ScheduledBatchLimit)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runTick(proc)
	for {
		select {
		case <-ticker.C:
			runTick(proc)
		case <-c:
			logger.Info("processor shutting down")
			return
		}
	}
}

func runTick(proc *processor.ScheduledProcessor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := proc.Run(ctx, processor.RunOptions{Limit: config.Get().ScheduledBatchLimit})
	if err != nil {
		logger.Error("tick failed", "error", err)
		return
	}
	if report.TotalProcessed == 0 {
		logger.Debug("tick complete, nothing due")
		return
	}
	logger.Info("tick complete",
		"total", report.TotalProcessed,
		"successful", report.Successful,
		"failed", report.Failed,
		"requeued", report.Requeued,
	)
}

func tickInterval() time.Duration {
	for _, v := range os.Args {
		if strings.HasPrefix(v, "--interval=") {
			if d, err := time.ParseDuration(strings.TrimPrefix(v, "--interval=")); err == nil && d > 0 {
				return d
			}
		}
	}
	return time.Minute
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
