package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-gateway/gateway"
	"ai-gateway/inference"
	"ai-gateway/middleware/ratelimit"
	"ai-gateway/middleware/ratelimit/application"
	"ai-gateway/middleware/ratelimit/domain"
	"ai-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clock := infra.SystemClock{}
	ledger, err := infra.NewLedger(cfg.tiers,
		infra.WithClock(clock),
		infra.WithSweepEvery(cfg.sweepEvery),
		infra.WithCleanupEvery(cfg.cleanupEvery),
	)
	if err != nil {
		return err
	}
	ledger.StartJanitor(ctx)

	memStats := infra.NewMemoryStatsStore()
	var mirrors []domain.StatsStore

	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return errors.Join(errors.New("redis stats ping failed"), err)
		}

		mirrors = append(mirrors, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		))
	}

	var (
		reg            *prometheus.Registry
		metricsHandler http.Handler
	)
	if cfg.metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		promStats, err := infra.NewPrometheusStatsStore(reg, ledger)
		if err != nil {
			return err
		}
		mirrors = append(mirrors, promStats)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	usage := application.UsageService{
		Primary: memStats,
		Mirrors: mirrors,
		Active:  ledger,
		Logger:  logger,
	}

	gate := application.ConcurrencyService{
		Pacer:          infra.NewPacer(cfg.upRPS, cfg.upBurst),
		AcquireTimeout: cfg.upAcquire,
	}
	// 0 = sem limite de chamadas simultâneas
	if cfg.upMax > 0 {
		slots := infra.NewChanPool(cfg.upMax)
		gate.Pool = slots
		if reg != nil {
			reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "aigateway_upstream_in_flight",
				Help: "Inference calls currently holding an upstream slot.",
			}, func() float64 { return float64(slots.InFlight()) }))
		}
	}

	ai := inference.New(
		inference.WithBaseURL(cfg.hfURL),
		inference.WithModel(cfg.hfModel),
		inference.WithToken(cfg.hfToken),
		inference.WithTimeout(cfg.upTimeout),
		inference.WithGate(gate),
		inference.WithLogger(logger),
	)
	if !ai.Configured() {
		logger.Warn("HF_API_TOKEN not set: chat requests will answer 500 until configured")
	}

	admission := ratelimit.Middleware(ratelimit.Options{
		Service: application.Service{
			Ledger:  ledger,
			Clock:   clock,
			Unknown: domain.Identity(cfg.unknownIdentity),
		},
		Stats:               usage,
		KeyHeader:           cfg.rateKeyHeader,
		TrustXForwardedFor:  cfg.trustXFF,
		UseRemoteAddr:       cfg.useRemoteAddr,
		AddRateLimitHeaders: cfg.addHeaders,
	})

	h := gateway.New(gateway.Options{
		ChatPath:  cfg.chatPath,
		StatsPath: cfg.statsPath,
		Admission: admission,
		Usage:     usage,
		AI:        ai,
		Clock:     clock,
		Logger:    logger,
		Extra: func(r chi.Router) {
			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			})
		},
	})

	servers := []*http.Server{newServer(cfg.listenAddr, h.Routes())}
	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		servers = append(servers, newServer(cfg.metricsAddr, mux))
	}

	logger.Info("gateway listening",
		"addr", cfg.listenAddr,
		"chat_path", cfg.chatPath,
		"stats_path", cfg.statsPath,
		"metrics_addr", cfg.metricsAddr)
	for _, t := range ledger.Tiers() {
		logger.Info("rate tier", "name", t.Name, "max", t.Max, "window", t.Window.String())
	}
	logger.Info("rate ledger",
		"sweep_every_calls", ledger.SweepEvery(),
		"cleanup_every", ledger.CleanupEvery().String())
	logger.Info("rate identity",
		"key_header", cfg.rateKeyHeader,
		"trust_xff", cfg.trustXFF,
		"use_remote_addr", cfg.useRemoteAddr,
		"unknown_identity", cfg.unknownIdentity)
	logger.Info("upstream",
		"url", cfg.hfURL,
		"model", cfg.hfModel,
		"timeout", cfg.upTimeout.String(),
		"rps", cfg.upRPS,
		"burst", cfg.upBurst,
		"concurrency", cfg.upMax)
	logger.Info("rate-stats",
		"redis_enabled", cfg.rateStatsEnabled,
		"redis_addr", cfg.rateStatsRedisAddr,
		"bucket", cfg.rateStatsBucket,
		"ttl", cfg.rateStatsTTL.String())
	logger.Warn("rate limits and usage stats are kept per process; each replica enforces its own quota")

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
