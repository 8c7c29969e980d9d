package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/api"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/channel"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/config"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/healthcheck"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/ingestion"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/ingestion/handler"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/jetstream"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/policy"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/scoring"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/storage"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/usecase"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

// store is what main needs from either storage backend.
type store interface {
	storage.Store
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitializeFor(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting Daisi WA Handoff",
		zap.String("environment", cfg.Environment),
		zap.String("company_id", cfg.Company.ID),
		zap.String("database_driver", cfg.Database.Driver),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Bool("reasoning_enabled", cfg.Reasoning.Enabled),
	)

	repo, err := initStore(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize storage", zap.Error(err))
	}

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	hub := notify.NewHub(cfg.Notify.HubBuffer, cfg.Notify.ClientBuffer)
	utils.SafeGo(func() { hub.Run(mainCtx) }, func(r interface{}, stack []byte) {
		logger.Log.Error("Panic in notification hub", zap.Any("panic", r), zap.ByteString("stack", stack))
	})

	var (
		jsClient  *jetstream.Client
		relay     *notify.Relay
		publisher notify.Publisher = hub
	)
	if cfg.NATS.Enabled {
		jsClient, err = jetstream.NewClient(cfg.NATS.URL, "daisi-wa-handoff-"+cfg.Company.ID)
		if err != nil {
			logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
		}
		relay = notify.NewRelay(hub, jsClient.NatsConn(), cfg.NATS.NotifySubject, cfg.Company.ID)
		if err := relay.Start(); err != nil {
			logger.Log.Fatal("Failed to start notification relay", zap.Error(err))
		}
		publisher = relay
	}

	engine := initEngine(cfg)
	service := usecase.NewHandoffService(
		storage.NewRepositories(repo),
		engine,
		scoring.NewExtractor(scoring.ExtractorConfig{
			Regions:         cfg.Scoring.Regions,
			PrecatorioTerms: cfg.Scoring.PrecatorioTerms,
			UrgencyTerms:    cfg.Scoring.UrgencyTerms,
			InterestTerms:   cfg.Scoring.InterestTerms,
			HandoffPhrases:  cfg.Handoff.Phrases,
		}),
		policy.New(policy.Config{
			ScoreThreshold: cfg.Handoff.ScoreThreshold,
			MessageCeiling: int64(cfg.Handoff.MessageCeiling),
		}),
		publisher,
		initChannels(cfg),
		usecase.Options{
			DefaultPriority:        model.Priority(cfg.Handoff.DefaultPriority),
			BroadcastMaxRecipients: cfg.Broadcast.MaxRecipients,
			BroadcastDelay:         cfg.Broadcast.Delay,
		},
	)

	var scoringWorker *usecase.ScoringWorker
	if engine.ReasoningEnabled() {
		scoringWorker, err = usecase.NewScoringWorker(cfg.WorkerPools.Scoring, service.RescoreWithReasoning, logger.Log)
		if err != nil {
			logger.Log.Fatal("Failed to initialize scoring worker pool", zap.Error(err))
		}
		service.SetScoringWorker(scoringWorker)
	}

	var processor *ingestion.Processor
	if jsClient != nil {
		processor = ingestion.NewProcessor(jsClient, handler.NewInboundHandler(service), cfg.NATS.Inbound, cfg.Company.ID)
		if err := processor.Setup(); err != nil {
			logger.Log.Fatal("Failed to set up inbound processor", zap.Error(err))
		}
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(service), hub, api.RouterConfig{
		CompanyID:       cfg.Company.ID,
		AllowedOrigins:  cfg.API.AllowedOrigins,
		RequestTimeout:  cfg.API.RequestTimeout,
		BroadcastWindow: cfg.API.BroadcastWindow,
		Logger:          logger.Named("api"),
	})
	// The write deadline must outlast the longest broadcast.
	writeTimeout := cfg.API.WriteTimeout
	if limit := cfg.API.BroadcastWindow + 10*time.Second; writeTimeout < limit {
		writeTimeout = limit
	}
	apiServer := api.NewServer(strconv.Itoa(cfg.API.Port), router, cfg.API.ReadTimeout, writeTimeout, logger.Log)

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.RegisterCheck("database", repo.Ping)
	if jsClient != nil {
		healthServer.RegisterCheck("nats", jsClient.Ping)
	}
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
	}
	healthServer.Start()
	apiServer.Start()

	if processor != nil {
		if err := processor.Start(); err != nil {
			logger.Log.Fatal("Failed to start inbound processor", zap.Error(err))
		}
	}

	logger.Log.Info("Handoff service ready",
		zap.Int("api_port", cfg.API.Port),
		zap.Int("ops_port", cfg.Server.Port),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	// Intake stops first so nothing new reaches the service while it drains.
	var intake sync.WaitGroup
	stopComponent(&intake, "API server", func() error { return apiServer.Stop(shutdownCtx) })
	if processor != nil {
		stopComponent(&intake, "inbound processor", func() error { processor.Stop(); return nil })
	}
	waitOrTimeout(shutdownCtx, &intake)

	var rest sync.WaitGroup
	if scoringWorker != nil {
		stopComponent(&rest, "scoring worker pool", func() error { scoringWorker.Stop(); return nil })
	}
	if relay != nil {
		stopComponent(&rest, "notification relay", func() error { relay.Stop(); return nil })
	}
	stopComponent(&rest, "health check server", func() error { return healthServer.Stop(shutdownCtx) })
	waitOrTimeout(shutdownCtx, &rest)

	mainCancel()

	var conns sync.WaitGroup
	stopComponent(&conns, "storage", func() error { return repo.Close(shutdownCtx) })
	if jsClient != nil {
		stopComponent(&conns, "JetStream connection", func() error { jsClient.Close(); return nil })
	}
	waitOrTimeout(shutdownCtx, &conns)

	logger.Log.Info("Daisi WA Handoff shutdown complete")
}

// stopComponent runs stop in its own goroutine, logging duration, errors and panics.
// The deferred Done also runs when stop panics.
func stopComponent(wg *sync.WaitGroup, name string, stop func() error) {
	wg.Add(1)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping " + name)
		start := time.Now()
		if err := stop(); err != nil {
			logger.Log.Error("[shutdown] Error stopping "+name, zap.Error(err))
			return
		}
		logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping "+name,
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
	})
}

func waitOrTimeout(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, moving on")
	}
}

func initStore(cfg *config.Config) (store, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Log.Warn("Using in-memory storage, data is lost on restart")
		return storage.NewMemoryRepo(), nil
	default:
		repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Company.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
		}
		logger.Log.Info("Initialized PostgreSQL repository")
		return repo, nil
	}
}

func initEngine(cfg *config.Config) *scoring.Engine {
	var reasoner scoring.Reasoner
	if cfg.Reasoning.Enabled {
		if cfg.Reasoning.APIKey == "" {
			logger.Log.Warn("Reasoning enabled without an API key, AI rescoring is off")
		} else {
			reasoner = scoring.NewOpenAIReasoner(scoring.OpenAIReasonerConfig{
				APIKey:    cfg.Reasoning.APIKey,
				Model:     cfg.Reasoning.Model,
				BaseURL:   cfg.Reasoning.BaseURL,
				Timeout:   cfg.Reasoning.Timeout,
				MaxTokens: cfg.Reasoning.MaxTokens,
			}, logger.Named("reasoner"))
		}
	}
	return scoring.NewEngine(scoring.EngineConfig{
		ValueFloor:       cfg.Scoring.ValueFloor,
		Regions:          cfg.Scoring.Regions,
		ReasoningTimeout: 2 * cfg.Reasoning.Timeout,
	}, reasoner)
}

func initChannels(cfg *config.Config) *channel.Registry {
	channels := []channel.OutboundChannel{}
	if cfg.Channels.Evolution.BaseURL != "" {
		channels = append(channels, channel.NewEvolution(cfg.Channels.Evolution))
	}
	if cfg.Channels.Meta.AccessToken != "" {
		channels = append(channels, channel.NewMeta(cfg.Channels.Meta))
	} else {
		logger.Log.Info("Meta Cloud API token not set, official broadcasts are disabled")
	}
	return channel.NewRegistry(channels...)
}
