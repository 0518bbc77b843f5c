package main

import (
	"DSCEngine/internal/config"
	"DSCEngine/internal/core"
	"DSCEngine/internal/ingestion"
	"DSCEngine/internal/observability"
	"DSCEngine/internal/oracle"
	"DSCEngine/internal/persistence"
	"DSCEngine/internal/projection"
	"DSCEngine/internal/query"
	"DSCEngine/internal/server"
	"DSCEngine/migrations"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// serve runs the engine until ctx is cancelled or a component fails.
//
// Shutdown order: the processor stops first, then its output channels are
// closed so the persistence, projection and publish workers drain what was
// committed. A final snapshot is taken once the event log has caught up.
func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Str("version", version).Msg("DSC engine starting")

	registry, err := config.LoadCollateral(cfg.CollateralFile)
	if err != nil {
		return err
	}
	if cfg.EngineID == "" {
		logger.Warn().Msg("DSC_ENGINE_ID not set, using a fresh engine identity")
	}
	engineCfg, err := registry.EngineConfig(cfg.EngineUUID(), cfg.MaxPriceAge, cfg.IdempotencyLRUCapacity)
	if err != nil {
		return err
	}

	// --- Postgres ---
	db, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := persistence.NewMigrator(db, migrations.FS, logger.With().Str("component", "migrator").Logger()).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddProbe("postgres", db.PingContext)

	// --- Channels ---
	// The persist channel blocks the engine when full; projection and
	// publish drop and are recovered from the event log.
	persistCh := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCh := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	var publishCh chan core.CoreOutput
	if cfg.NATSURL != "" {
		publishCh = make(chan core.CoreOutput, cfg.PublishChanSize)
	}

	// --- Engine ---
	feeds := oracle.NewFeedBook()
	tokens, err := newTokenSet(registry, engineCfg.EngineID)
	if err != nil {
		return err
	}
	idem := persistence.NewPostgresIdempotencyChecker(db)

	deps := core.Deps{
		Prices:         feeds,
		Collateral:     tokens.collateralMap(),
		Dsc:            tokens.dsc.As(engineCfg.EngineID),
		DBChecker:      idem,
		Metrics:        metrics,
		Logger:         logger.With().Str("component", "core").Logger(),
		PersistChan:    persistCh,
		ProjectionChan: projectionCh,
		PublishChan:    publishCh,
	}
	engine, err := core.New(engineCfg, deps)
	if err != nil {
		return err
	}

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	replayed, err := recoverEngine(ctx, engine, snapMgr, idem, cfg.IdempotencyLRUCapacity, metrics, logger)
	if err != nil {
		return err
	}
	if err := tokens.seed(engine, registry); err != nil {
		return err
	}
	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Int64("replayed", replayed).
		Str("engine_id", engine.ID().String()).
		Msg("engine recovered")

	processor := core.NewProcessor(engine, cfg.ProcessorQueueSize, logger.With().Str("component", "processor").Logger())
	snapshots := newSnapshotter(processor, snapMgr, metrics, logger)

	// --- NATS ---
	var (
		js         jetstream.JetStream
		subscriber *ingestion.NATSSubscriber
		raw        chan ingestion.RawMessage
	)
	if cfg.NATSURL != "" {
		var nc *nats.Conn
		err := retryConnect(ctx, cfg.ConnectTimeout, "nats", logger, func() error {
			var err error
			nc, js, err = ingestion.ConnectNATS(cfg.NATSURL, logger)
			return err
		})
		if err != nil {
			return err
		}
		defer nc.Close()
		healthChecker.AddProbe("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return err
		}

		// Messages buffer in raw until the router starts.
		raw = make(chan ingestion.RawMessage, cfg.IngestChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, raw, logger.With().Str("component", "nats").Logger())
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			subscriber.Stop()
			return err
		}
	} else {
		logger.Warn().Msg("DSC_NATS_URL empty, price and command ingestion disabled")
	}

	// --- Workers ---
	// Workers are not cancelled: they stop when the engine's output channels
	// are closed, so everything committed is drained. A failing worker stops
	// the rest of the process instead.
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	var workers errgroup.Group
	startWorker := func(name string, run func(context.Context) error) {
		workers.Go(func() error {
			if err := run(context.Background()); err != nil {
				stopRun()
				return fmt.Errorf("%s worker: %w", name, err)
			}
			return nil
		})
	}
	startWorker("persistence", persistence.NewPersistenceWorker(db, persistCh, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, logger.With().Str("component", "persistence").Logger()).Run)
	startWorker("projection", projection.NewProjectionWorker(db, projectionCh, metrics,
		logger.With().Str("component", "projection").Logger()).Run)
	if publishCh != nil {
		startWorker("publisher", ingestion.NewOutboundPublisher(js, publishCh,
			logger.With().Str("component", "publisher").Logger()).Run)
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := processor.Run(gctx)
		close(persistCh)
		close(projectionCh)
		if publishCh != nil {
			close(publishCh)
		}
		return ignoreCanceled(err)
	})
	g.Go(workers.Wait)
	if raw != nil {
		router := ingestion.NewRouter(raw, feeds, processor, metrics, logger.With().Str("component", "router").Logger())
		g.Go(func() error { return ignoreCanceled(router.Run(gctx)) })
	}

	// --- gRPC + HTTP gateway ---
	svc := server.NewService(server.Deps{
		Engine:       processor,
		DB:           db,
		Queries:      query.NewQueryService(db, registry.Decimals()),
		Snapshots:    snapMgr,
		TakeSnapshot: snapshots.Take,
		Logger:       logger.With().Str("component", "server").Logger(),
	})
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, svc, healthChecker, metrics,
		logger.With().Str("component", "grpc").Logger(),
		server.WithRPCMetrics(reg),
		server.WithCORS(cfg.CORSOrigins),
		server.WithRateLimit(cfg.RateLimitPerMinute))

	g.Go(func() error { return grpcServer.StartGRPC(gctx) })
	g.Go(func() error { return grpcServer.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, reg, logger) })
	g.Go(func() error { return ignoreCanceled(snapshots.Run(gctx, cfg.SnapshotInterval)) })

	healthChecker.SetReady(true)
	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("DSC engine ready")

	runErr := g.Wait()
	healthChecker.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}

	// The processor has exited, so the engine can be read directly.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	seq, err := snapshots.save(shutdownCtx, engine.CreateSnapshotState())
	switch {
	case errors.Is(err, errNothingToSnapshot):
	case err != nil:
		logger.Error().Err(err).Msg("final snapshot failed")
	default:
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("DSC engine shutdown complete")
	return runErr
}

// openPostgres opens the pool and waits for the server, retrying with
// exponential backoff for up to cfg.ConnectTimeout.
func openPostgres(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = retryConnect(ctx, cfg.ConnectTimeout, "postgres", logger, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Msg("Postgres connected")
	return db, nil
}

func retryConnect(ctx context.Context, budget time.Duration, name string, logger zerolog.Logger, connect func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = budget

	err := backoff.RetryNotify(connect, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.Warn().Err(err).Str("target", name).Dur("retry_in", wait).Msg("connect failed, retrying")
	})
	if err != nil {
		return fmt.Errorf("%s connect: %w", name, err)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
