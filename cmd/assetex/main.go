package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/assetex/api"
	"github.com/Aidin1998/assetex/internal/auth"
	"github.com/Aidin1998/assetex/internal/config"
	"github.com/Aidin1998/assetex/internal/database"
	"github.com/Aidin1998/assetex/internal/events"
	"github.com/Aidin1998/assetex/internal/funds"
	"github.com/Aidin1998/assetex/internal/marketplace"
	"github.com/Aidin1998/assetex/internal/registry"
	"github.com/Aidin1998/assetex/internal/stats"
	"github.com/Aidin1998/assetex/pkg/logger"
	"github.com/Aidin1998/assetex/pkg/metrics"
	"github.com/Aidin1998/assetex/pkg/models"
)

const eventReplaySize = 256

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Create logger
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to the database and prepare the schema
	db, err := database.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db, cfg.Market.DefaultFeePercent); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}
	if err := database.EnsureFundAccount(db, cfg.Market.TreasuryPrincipal); err != nil {
		zapLogger.Fatal("Failed to prepare treasury account", zap.Error(err))
	}

	// Bind the asset registry backend
	reg, err := buildRegistry(db, cfg)
	if err != nil {
		zapLogger.Fatal("Failed to bind asset registry", zap.Error(err))
	}

	// Create services
	statsSvc, err := stats.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create stats service", zap.Error(err))
	}

	fundsSvc, err := funds.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create fund service", zap.Error(err))
	}

	var publishers []events.Publisher
	if cfg.Kafka.Enabled {
		publishers = append(publishers, events.NewKafkaPublisher(cfg.Kafka.Brokers, zapLogger))
	}
	if cfg.Redis.Enabled {
		publishers = append(publishers, events.NewRedisPublisher(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, zapLogger))
	}
	if webhook := os.Getenv("EVENT_WEBHOOK_URL"); webhook != "" {
		publishers = append(publishers, events.NewWebhookPublisher(webhook, zapLogger))
	}

	feed := events.NewHub(eventReplaySize)
	recorder, err := events.NewService(zapLogger, db, cfg.Kafka.Topic, publishers, feed)
	if err != nil {
		zapLogger.Fatal("Failed to create event recorder", zap.Error(err))
	}

	market, err := marketplace.NewService(zapLogger, db, cfg.Market, reg, statsSvc, fundsSvc, recorder)
	if err != nil {
		zapLogger.Fatal("Failed to create marketplace service", zap.Error(err))
	}

	tokens, err := auth.NewService(zapLogger, cfg.JWT)
	if err != nil {
		zapLogger.Fatal("Failed to create token service", zap.Error(err))
	}

	// Schedule DB pool metrics collection every 30s
	tickerDB := time.NewTicker(30 * time.Second)
	defer tickerDB.Stop()
	go func() {
		for range tickerDB.C {
			if sqlDB, err := db.DB(); err == nil {
				dbStats := sqlDB.Stats()
				metrics.DBOpenConns.WithLabelValues(cfg.Database.Driver).Set(float64(dbStats.OpenConnections))
				metrics.DBIdleConns.WithLabelValues(cfg.Database.Driver).Set(float64(dbStats.Idle))
				metrics.DBInUseConns.WithLabelValues(cfg.Database.Driver).Set(float64(dbStats.InUse))
			}
		}
	}()

	// Create API server
	apiServer := api.NewServer(zapLogger, cfg.Server, market, fundsSvc, recorder, feed, tokens)

	// Start services
	if err := market.Start(); err != nil {
		zapLogger.Fatal("Failed to start marketplace service", zap.Error(err))
	}

	// Start HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start server in a goroutine
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", addr))
		if err := apiServer.Start(addr); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}

	// Stop services
	if err := market.Stop(); err != nil {
		zapLogger.Error("Failed to stop marketplace service", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}

// buildRegistry selects the registry backend. An admin rebind persists the
// contract address, so a stored address wins over the configured one.
func buildRegistry(db *gorm.DB, cfg *config.Config) (registry.AssetRegistry, error) {
	switch cfg.Market.RegistryBackend {
	case "memory":
		return registry.NewMemoryRegistry(), nil
	case "evm":
		evmCfg := cfg.EVM
		var conf models.MarketConfig
		if err := db.First(&conf, 1).Error; err == nil && conf.RegistryAddress != "" {
			evmCfg.ContractAddress = conf.RegistryAddress
		}
		return registry.NewEVMRegistry(evmCfg)
	default:
		return nil, errors.New("unsupported registry backend: " + cfg.Market.RegistryBackend)
	}
}
