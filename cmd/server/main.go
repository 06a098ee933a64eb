package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openwargame/wargame-server-go/internal/config"
	"github.com/openwargame/wargame-server-go/internal/game"
	"github.com/openwargame/wargame-server-go/internal/geometry"
	"github.com/openwargame/wargame-server-go/internal/library"
	"github.com/openwargame/wargame-server-go/internal/repository"
	"github.com/openwargame/wargame-server-go/internal/rules"
	"github.com/openwargame/wargame-server-go/internal/server"
	"github.com/openwargame/wargame-server-go/internal/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting wargame server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	lib := library.New(logger)
	if err := lib.LoadDir(cfg.Library.Dir); err != nil {
		logger.Fatal("failed to load datasheet library", zap.Error(err))
	}
	logger.Info("datasheet library loaded",
		zap.String("dir", cfg.Library.Dir),
		zap.Int("datasheets", len(lib.DatasheetIDs())),
	)

	var repo *repository.BattleRepository
	if cfg.Database.URL != "" {
		db, err := repository.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		stats := db.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)
		repo = repository.NewBattleRepository(db)
	} else {
		logger.Warn("no database configured; battles are not persisted")
	}

	sessionMgr := session.NewManager(cfg.Server.LeasePeriod, cfg.Server.MaxSessions, logger)
	go sessionMgr.CleanupExpiredSessions(ctx)
	logger.Info("session manager initialized",
		zap.Duration("lease_period", cfg.Server.LeasePeriod),
	)

	measure := geometry.NewCalculator()
	rulesEngine := rules.NewEngine(lib, measure, rules.NewRoller(), logger)
	engine := game.NewBattleEngine(measure, rulesEngine, logger)
	logger.Info("battle engine initialized",
		zap.Float64("engagement_range", cfg.Battle.EngagementRange),
	)

	srv := server.New(cfg.Server, cfg.Battle, engine, sessionMgr, repo, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	logger.Info("shutting down gracefully...")
	cancel()
	logger.Info("wargame server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
