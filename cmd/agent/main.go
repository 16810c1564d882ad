package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"yield-rebalance-agent/internal/config"
	"yield-rebalance-agent/internal/database"
	"yield-rebalance-agent/internal/engine"
	"yield-rebalance-agent/internal/events"
	"yield-rebalance-agent/internal/logger"
	"yield-rebalance-agent/internal/rpc"
	"yield-rebalance-agent/internal/store"
	"yield-rebalance-agent/internal/strategy"
	"yield-rebalance-agent/internal/vault"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.Bool("dry_run", cfg.Agent.DryRun))

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	repo := store.New(db)
	log.Info("Database connection successful and schema migrated.")

	resolver, ledger, err := collaborators(&cfg, log)
	if err != nil {
		log.Fatal("Failed to set up collaborators", zap.Error(err))
	}

	bus := events.NewBus(log, events.NewLogSink(log), repo)
	if cfg.Kafka.Enabled {
		sink, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Fatal("Failed to connect to Kafka", zap.Error(err))
		}
		defer sink.Close()
		bus.Add(sink)
		log.Info("Publishing decision events to Kafka", zap.String("topic", cfg.Kafka.Topic))
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	agent := engine.New(log, engine.OptionsFromConfig(cfg.Agent), resolver, ledger, repo, bus)
	if err := agent.Start(ctx); err != nil {
		log.Fatal("Failed to start engine", zap.Error(err))
	}

	registered := make(map[string]bool)
	for _, rec := range agent.Strategies() {
		registered[rec.ID] = true
	}
	for _, id := range cfg.Agent.Strategies {
		if registered[id] {
			continue
		}
		if err := agent.RegisterStrategy(ctx, cfg.Agent.Owner, id); err != nil {
			log.Error("Failed to register configured strategy", zap.String("strategy", id), zap.Error(err))
		}
	}

	api := engine.NewAPIServer(agent, cfg.Server.Port, log)
	api.Start()

	// The loop triggers as the first configured agent identity, or the owner.
	trigger := cfg.Agent.Owner
	if len(cfg.Agent.Agents) > 0 {
		trigger = cfg.Agent.Agents[0]
	}
	agent.Run(ctx, trigger)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}
	log.Info("Agent has been shut down.")
}

// collaborators builds the metrics resolver and vault ledger, simulated in dry-run mode.
func collaborators(cfg *config.Config, log *zap.Logger) (strategy.Resolver, vault.Ledger, error) {
	if !cfg.Agent.DryRun {
		metricsClient := rpc.NewClient(&cfg.Metrics, log.Named("metrics"))
		vaultClient := rpc.NewClient(&cfg.Vault, log.Named("vault"))
		return strategy.NewHTTPResolver(metricsClient), vault.NewHTTPLedger(vaultClient, log), nil
	}

	log.Warn("Dry run enabled. Metrics are static and no funds will move.")
	resolver := strategy.NewStaticResolver()
	for _, s := range cfg.Simulation.Strategies {
		tvl, ok := sdkmath.NewIntFromString(s.TVL)
		if !ok {
			return nil, nil, fmt.Errorf("simulation strategy %s: invalid tvl %q", s.ID, s.TVL)
		}
		resolver.Add(s.ID, strategy.NewStaticSource(strategy.Metrics{
			APY:       s.APY,
			TVL:       tvl,
			RiskLevel: s.RiskLevel,
			Healthy:   s.Healthy,
		}))
	}
	return resolver, vault.NewSimulatedLedger(cfg.Simulation.Current, log), nil
}
