package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"carebook/internal/config"
	"carebook/internal/idempotency"
	"carebook/internal/notify"
	"carebook/internal/observability/metrics"
	"carebook/internal/service/appointments"
	"carebook/internal/service/availability"
	"carebook/internal/store"
	"carebook/internal/store/memory"
	"carebook/internal/store/postgres"
	grpcTransport "carebook/internal/transport/grpc"
	httptransport "carebook/internal/transport/http"
)

const serviceName = "carebook-server"

type repositories struct {
	schedules    store.ScheduleRepository
	appointments store.AppointmentRepository
	ready        func(ctx context.Context) error
	close        func()
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	log.Info(
		"starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg); err != nil {
		log.Error("server stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	repos, err := openRepositories(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(reg)

	idem, closeRedis, err := openIdempotency(log, cfg)
	if err != nil {
		return err
	}
	defer closeRedis()

	notifier, closeNATS, err := openNotifier(log, cfg)
	if err != nil {
		return err
	}
	defer closeNATS()

	availabilitySvc := availability.NewService(repos.schedules, repos.appointments, availability.Config{
		Parallelism:        cfg.SearchParallelism,
		NextAvailableLimit: cfg.NextAvailableLimit,
		Location:           loc,
		Logger:             log,
		Metrics:            bookingMetrics,
	})
	appointmentsSvc := appointments.NewService(repos.appointments, notifier, idem, appointments.Config{
		Location:           loc,
		CancellationNotice: cfg.CancellationNotice,
		AutoConfirm:        cfg.AutoConfirm,
		Logger:             log,
		Metrics:            bookingMetrics,
	})

	if cfg.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; every authenticated route will answer 401")
	}

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httptransport.NewRouter(httptransport.Config{
			Logger:         log,
			Availability:   availabilitySvc,
			Appointments:   appointmentsSvc,
			Schedules:      repos.schedules,
			MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			Ready:          repos.ready,
			JWTSecret:      cfg.JWTSecret,
			RequestTimeout: cfg.HTTPRequestTimeout,
			RateLimit:      cfg.BookingRateLimit,
			RateBurst:      cfg.BookingRateBurst,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer := grpcTransport.NewServer(cfg.HTTPRequestTimeout)
	watcher := grpcTransport.NewReadinessWatcher(healthServer, repos.ready, 0, log)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr))
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go watcher.Run(watchCtx)

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	log.Info("servers started", slog.String("http_addr", cfg.HTTPAddr), slog.String("grpc_addr", cfg.GRPCAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		stopWatch()
		shutdown(log, httpServer, grpcServer, cfg.ShutdownTimeout)
		return nil
	case err := <-errCh:
		stopWatch()
		shutdown(log, httpServer, grpcServer, cfg.ShutdownTimeout)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func openRepositories(ctx context.Context, log *slog.Logger, cfg config.Config) (repositories, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		st := memory.New()
		return repositories{
			schedules:    st,
			appointments: st,
			ready:        func(ctx context.Context) error { return nil },
			close:        func() {},
		}, nil
	}

	if cfg.AutoMigrate {
		if err := migrateUp(log, cfg.DatabaseURL); err != nil {
			return repositories{}, err
		}
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return repositories{}, err
	}

	return repositories{
		schedules:    postgres.NewScheduleRepo(db),
		appointments: postgres.NewAppointmentRepo(db),
		ready:        postgres.Ready(db),
		close: func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		},
	}, nil
}

func migrateUp(log *slog.Logger, databaseURL string) error {
	m, err := postgres.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("migrator close failed", slog.Any("err", err))
		}
	}()

	if err := m.Up(); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	log.Info("database migrated", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

func openIdempotency(log *slog.Logger, cfg config.Config) (appointments.IdempotencyStore, func(), error) {
	if cfg.RedisURL == "" {
		log.Info("redis not configured; idempotency keys rely on the database only")
		return idempotency.Noop{}, func() {}, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	log.Info("redis configured", slog.String("redis_addr", opt.Addr))
	return idempotency.NewStore(rdb, cfg.IdempotencyTTL), func() {
		if err := rdb.Close(); err != nil {
			log.Warn("redis close failed", slog.Any("err", err))
		}
	}, nil
}

func openNotifier(log *slog.Logger, cfg config.Config) (notify.Notifier, func(), error) {
	if cfg.NATSURL == "" {
		return notify.NewLogNotifier(log), func() {}, nil
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name(serviceName), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	log.Info("nats connected", slog.String("nats_url", nc.ConnectedUrlRedacted()), slog.String("subject_prefix", cfg.NATSSubjectPrefix))
	return notify.NewNATSNotifier(nc, cfg.NATSSubjectPrefix), func() {
		if err := nc.Drain(); err != nil {
			log.Warn("nats drain failed", slog.Any("err", err))
		}
	}, nil
}

func shutdown(log *slog.Logger, hs *http.Server, gs *grpc.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := hs.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("servers stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		gs.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
