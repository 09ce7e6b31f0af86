package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetdesk/internal/api"
	"meetdesk/internal/auth"
	"meetdesk/internal/bot"
	"meetdesk/internal/config"
	"meetdesk/internal/database"
	"meetdesk/internal/domain"
	"meetdesk/internal/events"
	"meetdesk/internal/google"
	"meetdesk/internal/logging"
	"meetdesk/internal/metrics"
	"meetdesk/internal/mq"
	"meetdesk/internal/notify"
	"meetdesk/internal/postgres"
	"meetdesk/internal/repository"
	"meetdesk/internal/retry"
	"meetdesk/internal/service"
	"meetdesk/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, sqliteDB, err := initStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	slotCache, idempotency := initCaches(redisClient, &logger)

	bus := events.NewEventBus(logging.Component(&logger, "events"))
	publisher := initForwarder(cfg, bus, &logger)
	if publisher != nil {
		defer publisher.Close()
	}
	tgAPI := initTelegram(cfg, bus, &logger)

	followUps := initWorker(ctx, cfg, store, redisClient, &logger)
	go followUps.Start(ctx)

	meetings := service.NewMeetingService(service.Deps{
		Meetings:    store,
		Counters:    store,
		Cache:       slotCache,
		Idempotency: idempotency,
		Events:      bus,
		FollowUps:   followUps,
	}, service.OptionsFromConfig(cfg.Scheduling), logging.Component(&logger, "meetings"))

	if sqliteDB != nil {
		backups := database.NewBackupService(sqliteDB, cfg.Backup, logging.Component(&logger, "backup"))
		go backups.Start(ctx)
	}

	if tgAPI != nil && cfg.Telegram.BookingBot {
		dialog := initBookingBot(cfg, tgAPI, meetings, redisClient, &logger)
		go dialog.Start(ctx)
		defer dialog.Stop()
	}

	startMetrics(ctx, cfg, &logger)

	authn := auth.NewAuthenticator(cfg.API.Auth)
	httpServer := api.NewHTTPServer(cfg.API, meetings, store, authn, logging.Component(&logger, "http"))

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, store, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// initStore opens the configured backend. The SQLite handle is returned
// separately because only it supports file backups.
func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Store, *database.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		sqlDB, err := postgres.Connect(ctx, cfg.Database.Postgres, logging.Component(logger, "postgres"))
		if err != nil {
			logger.Error().Err(err).Str("host", cfg.Database.Postgres.Host).Msg("connect postgres")
			return nil, nil, err
		}
		if err := postgres.EnsureSchema(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		return postgres.NewStore(sqlDB, logging.Component(logger, "postgres")), nil, nil
	default:
		db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "sqlite"))
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		return db, db, nil
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initCaches(client *redis.Client, logger *zerolog.Logger) (domain.SlotCache, domain.IdempotencyStore) {
	memCache := repository.NewMemorySlotCache()
	memClaims := repository.NewMemoryIdempotencyStore()
	if client == nil {
		return memCache, memClaims
	}
	cacheLogger := logging.Component(logger, "cache")
	return repository.NewFailoverSlotCache(repository.NewRedisSlotCache(client), memCache, cacheLogger),
		repository.NewFailoverIdempotencyStore(repository.NewRedisIdempotencyStore(client), memClaims, cacheLogger)
}

func initForwarder(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *mq.Publisher {
	if cfg.RabbitMQ.URL == "" {
		return nil
	}
	publisher, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq init failed, events stay in-process")
		return nil
	}
	mq.NewForwarder(publisher, cfg.App.Name, logging.Component(logger, "mq")).Attach(bus)
	logger.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("rabbitmq forwarder attached")
	return publisher
}

// initTelegram connects the bot API and attaches the admin notifier. The
// same client later serves the booking dialog.
func initTelegram(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *tgbotapi.BotAPI {
	if cfg.Telegram.BotToken == "" {
		return nil
	}
	tg, err := notify.NewBot(cfg.Telegram)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram")
		return nil
	}
	if len(cfg.Telegram.AdminChatIDs) > 0 {
		notify.NewAdminNotifier(tg, cfg.Telegram.AdminChatIDs, logging.Component(logger, "notify")).Attach(bus)
		logger.Info().Int("chats", len(cfg.Telegram.AdminChatIDs)).Msg("telegram notifier attached")
	}
	return tg
}

func initBookingBot(
	cfg *config.Config,
	tg *tgbotapi.BotAPI,
	meetings *service.MeetingService,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) *bot.Bot {
	var states domain.StateRepository = repository.NewMemoryStateRepository(cfg.Telegram.StateTTL)
	if redisClient != nil {
		states = repository.NewRedisStateRepository(redisClient, cfg.Telegram.StateTTL)
	}
	return bot.NewBot(bot.NewBotWrapper(tg), meetings, states, bot.Options{
		ManagerIDs:        cfg.Telegram.ManagerIDs,
		DatePickerDays:    cfg.Telegram.DatePickerDays,
		RateLimitMessages: cfg.Telegram.RateLimitMessages,
		RateLimitWindow:   cfg.Telegram.RateLimitWindow,
		Location:          cfg.Scheduling.Location(),
	}, logging.Component(logger, "bot"))
}

func initWorker(
	ctx context.Context,
	cfg *config.Config,
	store domain.Store,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) *worker.FollowUpWorker {
	var sheet worker.MeetingSheet
	if s := initGoogleSheets(ctx, cfg, logger); s != nil {
		sheet = s
	}

	opts := worker.Options{
		Retry: retry.Config{
			MaxAttempts:   cfg.Worker.MaxRetries,
			InitialDelay:  cfg.Worker.InitialDelay,
			MaxDelay:      cfg.Worker.MaxDelay,
			BackoffFactor: 2,
		},
		PollInterval: cfg.Worker.PollInterval,
	}
	return worker.NewFollowUpWorker(store, sheet, redisClient, opts, logging.Component(logger, "followups"))
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.MeetingSheet {
	if cfg.Google.CredentialsFile == "" || cfg.Google.MeetingsSpreadID == "" {
		return nil
	}

	sheet, err := google.NewMeetingSheet(ctx, cfg.Google.CredentialsFile, cfg.Google.MeetingsSpreadID, cfg.Google.MeetingsSheetTitle)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheet.TestConnection(ctx); err != nil {
		if email, emailErr := google.ServiceAccountEmail(cfg.Google.CredentialsFile); emailErr == nil {
			logger.Warn().Err(err).Str("service_account", email).Msg("spreadsheet not reachable; share it with the service account")
		} else {
			logger.Warn().Err(err).Msg("spreadsheet not reachable")
		}
		return nil
	}
	if err := sheet.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("sheet row cache warm-up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheet
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go grpcServer.WatchReadiness(ctx, 15*time.Second)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().
		Bool("grpc", grpcServer != nil).
		Bool("http", cfg.API.HTTP.Enabled).
		Int("http_port", cfg.API.HTTP.Port).
		Msg("meetdesk API started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
