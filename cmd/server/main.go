package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"minevest/internal/accrual"
	"minevest/internal/config"
	cronrunner "minevest/internal/cron"
	"minevest/internal/db"
	"minevest/internal/handler"
	"minevest/internal/logger"
	gormrepository "minevest/internal/repository/gorm"
	"minevest/internal/service"
)

func main() {
	cfgPath := os.Getenv("MINEVEST_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("MINEVEST_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	engineSvc := &accrual.Engine{
		Repo:       store,
		Logger:     logger,
		Period:     cfg.Accrual.Period,
		MaxRetries: cfg.Accrual.MaxRetries,
		BatchLimit: cfg.Accrual.BatchLimit,
	}
	reconciler := &accrual.Reconciler{Repo: store, Logger: logger}
	purchaseSvc := &service.PurchaseService{
		Repo:              store,
		Logger:            logger,
		Period:            cfg.Accrual.Period,
		LumpSumMinPeriods: cfg.Accrual.LumpSumMinPeriods,
	}
	ledgerSvc := &service.LedgerService{Repo: store, Logger: logger}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	accrualHandler := &handler.AccrualHandler{
		Runner:     engineSvc,
		Reconciler: reconciler,
		Repo:       store,
		Logger:     logger,
	}
	accrualHandler.Register(engine)
	positionHandler := &handler.PositionHandler{
		Repo:     store,
		Purchase: purchaseSvc,
		Logger:   logger,
	}
	positionHandler.Register(engine)
	ledgerHandler := &handler.LedgerHandler{
		Repo:   store,
		Ledger: ledgerSvc,
		Logger: logger,
	}
	ledgerHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err := cronRunner.Add(cfg.Cron.AccrualRun, func(ctx context.Context) {
			result, err := engineSvc.Run(ctx, time.Time{})
			if err != nil {
				logger.Warn("cron accrual run failed", zap.Error(err))
				return
			}
			if len(result.Errors) > 0 {
				logger.Warn("cron accrual run finished with errors",
					zap.Int("scanned", result.PositionsScanned),
					zap.Strings("errors", result.Errors),
				)
			}
		})
		if err != nil {
			logger.Warn("cron register accrual run failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
