package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dcard-ledger/internal/api"
	"dcard-ledger/internal/api/middleware"
	v1 "dcard-ledger/internal/api/v1"
	"dcard-ledger/internal/event"
	"dcard-ledger/internal/metrics"
	"dcard-ledger/internal/scheduler"
	schedulerjobs "dcard-ledger/internal/scheduler/jobs"
	"dcard-ledger/internal/service"
	"dcard-ledger/internal/sse"
	applog "dcard-ledger/pkg/logger"
)

const logStoreCapacity = 1000

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(runHealthcheck())
		case "migrate":
			if err := runMigrateCommand(os.Args[2:]); err != nil {
				// #nosec G705 -- CLI output only; control characters are stripped.
				fmt.Fprintln(os.Stderr, sanitizeCLIError(err))
				os.Exit(1)
			}
			return
		case "serve":
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q, want serve, migrate or healthcheck\n", os.Args[1])
			os.Exit(2)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	logStore := applog.NewStore(logStoreCapacity)
	baseLogger, closeLog, err := applog.New(applog.Options{
		Env:        cfg.App.Env,
		Level:      cfg.Log.Level,
		Encoding:   cfg.Log.Encoding,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer closeLog() //nolint:errcheck
	logger := logStore.Tee(baseLogger)

	isDebugMode := strings.EqualFold(cfg.App.Env, "development")
	if !isDebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	registry, closeRegistry, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open ledger backend failed", zap.String("backend", cfg.Ledger.Backend), zap.Error(err))
	}
	defer closeRegistry()

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init voucher lock failed", zap.String("lock", cfg.Ledger.Lock), zap.Error(err))
	}
	defer closeLocker()

	eventBus := event.NewBus(logger)
	metrics.Attach(eventBus)
	sseHub := sse.NewHub(0, logger)
	defer sseHub.Close()
	sseHub.Attach(eventBus)

	services := v1.LedgerServices{
		Issuer: service.NewIssuer(registry, eventBus, service.IssuerConfig{
			CouponPrefix:  cfg.Ledger.CouponPrefix,
			TicketPrefix:  cfg.Ledger.TicketPrefix,
			IssueAttempts: cfg.Ledger.IssueAttempts,
		}, logger),
		Verifier: service.NewVerifier(registry, logger),
		Redeemer: service.NewRedeemer(registry, locker, eventBus, service.RedeemerConfig{
			RequireBeneficiaryOnBurn: cfg.Ledger.RequireBeneficiaryOnBurn,
		}, logger),
		History: service.NewHistory(registry, logger),
	}

	cronRunner := scheduler.NewScheduler(scheduler.Deps{
		StatsJob: schedulerjobs.NewLedgerStatsJob(services.History, logger),
		ProbeJob: schedulerjobs.NewRegistryProbeJob(registry, logger),
	}, logger)
	cronRunner.Start()
	defer func() {
		stopCtx := cronRunner.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(2 * time.Second):
		}
	}()

	maintenance := middleware.NewMaintenance(false)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(buildCORSMiddleware(cfg))
	router.Use(middleware.RequestLogger(logger))

	api.RegisterHealthRoutes(router, registry)
	api.RegisterHealthRoutes(router.Group("/api/v1"), registry)
	api.RegisterInternalRoutes(router, api.OpsDeps{
		InternalToken: cfg.Security.InternalToken,
		AllowLoopback: isDebugMode,
		Registry:      registry,
		History:       services.History,
		Logs:          logStore,
		Maintenance:   maintenance,
	})

	if isDebugMode && cfg.Debug.PprofEnabled {
		registerPprofRoutes(router)
		logger.Info("pprof endpoint enabled", zap.String("path", "/debug/pprof/"))
	}

	apiV1 := router.Group("/api/v1")
	v1.RegisterLedgerRoutes(apiV1, services, v1.RouteGuards{
		Maintenance:     maintenance,
		Limiter:         middleware.NewRateLimiter(),
		VerifyPerMinute: cfg.RateLimit.VerifyPerMinute,
		BurnPerMinute:   cfg.RateLimit.BurnPerMinute,
	})
	v1.RegisterSSERoutes(apiV1, sseHub)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	logger.Info("server started",
		zap.String("addr", srv.Addr),
		zap.String("backend", cfg.Ledger.Backend),
		zap.String("lock", cfg.Ledger.Lock),
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			logger.Fatal("server exited unexpectedly", zap.Error(err))
		}
		return
	}

	// Streams block Shutdown until they end, so close them first.
	sseHub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown server failed", zap.Error(err))
	}
	eventBus.Wait()
}

func registerPprofRoutes(router *gin.Engine) {
	pprofGroup := router.Group("/debug/pprof")
	pprofGroup.GET("/", gin.WrapF(pprof.Index))
	pprofGroup.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
	pprofGroup.GET("/symbol", gin.WrapF(pprof.Symbol))
	pprofGroup.POST("/symbol", gin.WrapF(pprof.Symbol))
	pprofGroup.GET("/trace", gin.WrapF(pprof.Trace))
	pprofGroup.GET("/allocs", gin.WrapH(pprof.Handler("allocs")))
	pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
	pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
	pprofGroup.GET("/mutex", gin.WrapH(pprof.Handler("mutex")))
}

func runHealthcheck() int {
	port := strings.TrimSpace(os.Getenv("DCARD_SERVER_PORT"))
	if port == "" {
		port = "8080"
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:" + port + "/health/ready")
	if err != nil {
		return 1
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func sanitizeCLIError(err error) string {
	if err == nil {
		return ""
	}

	text := strings.ReplaceAll(err.Error(), "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}
