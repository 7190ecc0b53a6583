package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parking-admission/admission"
	"parking-admission/allocation"
	"parking-admission/config"
	"parking-admission/health"
	"parking-admission/inventory"
	"parking-admission/ledger"
	"parking-admission/oracle"
	"parking-admission/orchestration"
	"parking-admission/queues"
	qpubsub "parking-admission/queues/pubsub"
	"parking-admission/security"
	"parking-admission/server"
	"parking-admission/sweeper"
	"parking-admission/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	setLogger(os.Getenv("LOG_LEVEL"))
	log.Info().Msgf("Starting parking-admission version: %s", version)
	cfg := config.Load()
	setLogger(cfg.LogLevel)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTelServiceName, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry init failed")
	}

	store := openInventory(cfg)

	var (
		l      ledger.Ledger
		v      security.Verifier
		checks []health.Check
	)
	if cfg.DatabaseURL != "" {
		pool, err := ledger.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer pool.Close()
		pg := ledger.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("ledger migration failed")
		}
		sec := security.NewPostgres(pool)
		if err := sec.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("security migration failed")
		}
		l, v = pg, sec
		checks = append(checks, health.Check{Name: "database", Fn: pool.Ping})
		log.Info().Msg("using PostgreSQL ledger and vehicle registry")
	} else {
		l, v = ledger.NewMemory(), security.NewMemory()
		log.Warn().Msg("DATABASE_URL not set; using in-memory ledger and vehicle registry")
	}

	engine := allocation.NewEngine(store, cfg.Mode(), cfg.RemoteTimeout, buildTiers(cfg)...)
	workflow := admission.NewWorkflow(l, v, store, engine, cfg.Pricing())

	sw := sweeper.New(store, l, sweeper.Options{
		Schedule:       cfg.SweepSchedule,
		ReservationTTL: cfg.ReservationTTL,
		PendingTTL:     cfg.PendingBookingTTL,
	})
	if err := sw.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("sweeper start failed")
	}

	srv := server.New(cfg.HTTPAddr(), workflow, checks...)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	var (
		publisher  *qpubsub.Publisher
		subscriber *qpubsub.Subscriber
	)
	if cfg.PubSubEnabled() {
		if cfg.CredentialsFile != "" {
			log.Info().Str("credsFile", cfg.CredentialsFile).Msg("using explicit Google credentials file")
		} else {
			log.Info().Msg("using default Google credentials (ambient)")
		}
		publisher = qpubsub.NewPublisher(cfg.GoogleProjectID, cfg.ResultTopic, cfg.CredentialsFile)
		subscriber = qpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.DetectionSubscription, cfg.CredentialsFile)
		controller := admission.NewController(publisher, workflow)

		go func() {
			log.Info().Str("subscription", cfg.DetectionSubscription).Msg("starting subscriber loop")
			if err := subscriber.Start(ctx, func(ctx context.Context, ev *queues.DetectionEvent) error {
				return controller.Handle(ctx, ev)
			}); err != nil {
				// Non-recoverable: if we can't receive from Pub/Sub, terminate the process
				log.Fatal().Err(err).Msg("subscriber exited with fatal error; shutting down")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	sw.Stop(shutdownCtx)
	if subscriber != nil {
		if err := subscriber.Close(); err != nil {
			log.Error().Err(err).Msg("pubsub subscriber close failed")
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("pubsub publisher close failed")
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}

func openInventory(cfg *config.Config) *inventory.MemoryStore {
	if cfg.InventoryPath != "" {
		store, err := inventory.LoadFile(cfg.InventoryPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.InventoryPath).Msg("failed to load slot inventory")
		}
		log.Info().Str("path", cfg.InventoryPath).Msg("slot inventory loaded")
		return store
	}
	store, err := inventory.NewMemoryStore(inventory.DemoLayout())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build demo inventory")
	}
	log.Warn().Msg("INVENTORY_PATH not set; using built-in demo layout")
	return store
}

// buildTiers returns the remote tiers in cascade order: oracle, then
// orchestration. The local fallback is always part of the engine.
func buildTiers(cfg *config.Config) []allocation.Tier {
	var tiers []allocation.Tier
	provider, err := oracle.NewProvider(oracle.ProviderConfig{
		Name:          cfg.OracleProvider,
		OpenAIKey:     cfg.OpenAIAPIKey,
		GoogleKey:     cfg.GoogleAPIKey,
		AnthropicKey:  cfg.AnthropicKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
	})
	switch {
	case err != nil:
		log.Fatal().Err(err).Msg("oracle provider misconfigured")
	case provider != nil:
		tiers = append(tiers, oracle.NewAdvisor(provider, oracle.Options{Model: cfg.OracleModel}))
		log.Info().Str("provider", provider.Name()).Msg("oracle tier enabled")
	}
	if cfg.OrchestrationURL != "" {
		tiers = append(tiers, orchestration.New(cfg.OrchestrationURL, cfg.OrchestrationAPIKey))
		log.Info().Str("url", cfg.OrchestrationURL).Msg("orchestration tier enabled")
	}
	return tiers
}
