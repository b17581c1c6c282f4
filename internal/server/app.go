// Package server wires the configured backends into the orchestrator and
// runs the worker pool, the recovery loop, the HTTP API and the gRPC health
// endpoint until the process is signalled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gophzip/internal/logging"
	"github.com/dmitrijs2005/gophzip/internal/server/api"
	"github.com/dmitrijs2005/gophzip/internal/server/blobs"
	"github.com/dmitrijs2005/gophzip/internal/server/config"
	"github.com/dmitrijs2005/gophzip/internal/server/events"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/dmitrijs2005/gophzip/internal/server/orchestrator"
	"github.com/dmitrijs2005/gophzip/internal/server/recovery"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/leases"
	"github.com/dmitrijs2005/gophzip/internal/server/store"
	"github.com/dmitrijs2005/gophzip/internal/server/worker"
	"github.com/go-redis/redis/v8"

	gs "github.com/dmitrijs2005/gophzip/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	orch    *orchestrator.Orchestrator
	pool    *worker.Pool
	health  func(ctx context.Context) error
	closers []func() error
}

func NewApp(ctx context.Context, c *config.Config) (_ *App, err error) {
	app := &App{config: c, logger: logging.New(os.Stdout, c.LogLevel)}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	deps := orchestrator.Dependencies{Logger: app.logger}

	var pg *store.Postgres
	switch c.MetadataBackend {
	case config.BackendPostgres:
		pg, err = store.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.closers = append(app.closers, pg.Close)
		app.health = pg.DB().PingContext
		deps.Store = pg
	default:
		deps.Store = store.NewMemory()
	}

	switch c.LeaseBackend {
	case config.BackendPostgres:
		deps.Leases = pg.Leases()
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		app.closers = append(app.closers, client.Close)
		if err = client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		deps.Leases = leases.NewRedisRepository(client)
	default:
		deps.Leases = leases.NewMemoryRepository(nil)
	}

	if deps.Blobs, err = newBlobStore(ctx, c); err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	if len(c.KafkaBrokers) > 0 {
		k := events.NewKafka(c.KafkaBrokers, c.KafkaTopic, app.logger)
		app.closers = append(app.closers, k.Close)
		deps.Events = k
	} else {
		deps.Events = events.Noop{}
	}

	app.orch, err = orchestrator.New(deps, orchestrator.Options{
		Format:         models.Format(c.ArchiveFormat),
		RetryBase:      c.RetryBase,
		RetryCap:       c.RetryCap,
		RetryAttempts:  c.RetryAttempts,
		AttemptTimeout: c.AttemptTimeout,
		LeaseTTL:       c.LeaseTTL,
		MaxUploadSize:  c.MaxUploadSize,
	})
	if err != nil {
		return nil, err
	}

	app.pool = worker.NewPool(c.WorkerCount, c.QueueSize, app.orch.RunCompressionJob, app.logger)
	app.orch.SetSubmitter(app.pool)

	app.logger.Info(ctx, "backends ready",
		"metadata", c.MetadataBackend,
		"blobs", c.BlobBackend,
		"leases", c.LeaseBackend,
		"owner", app.orch.Owner(),
	)
	return app, nil
}

func newBlobStore(ctx context.Context, c *config.Config) (blobs.Store, error) {
	switch c.BlobBackend {
	case config.BackendS3:
		return blobs.NewS3(ctx, blobs.S3Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Bucket:       c.S3Bucket,
			BaseEndpoint: c.S3BaseEndpoint,
		})
	case config.BackendMinio:
		return blobs.NewMinio(ctx, blobs.MinioOptions{
			Endpoint:  c.MinioEndpoint,
			AccessKey: c.S3RootUser,
			SecretKey: c.S3RootPassword,
			Bucket:    c.S3Bucket,
			UseSSL:    c.MinioUseSSL,
		})
	case config.BackendFS:
		return blobs.NewFileSystem(c.BlobDir)
	default:
		return blobs.NewMemory(), nil
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	h := api.NewHandler(app.orch, app.health, app.logger)
	e := api.NewRouter(ctx, h, api.RouterOptions{RateLimit: app.config.RateLimit, Logger: app.logger})

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.ShutdownTimeout)
		defer cancel()
		app.logger.Info(sctx, "Stopping HTTP server...")
		if err := e.Shutdown(sctx); err != nil {
			app.logger.Error(sctx, "HTTP shutdown failed", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)
	if err := e.Start(app.config.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.health, 0)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or the process receives a stop signal,
// then drains the workers and closes the backends.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	app.pool.Start(ctx)
	rec := recovery.NewService(app.orch, app.config.RecoveryInterval, app.logger)
	rec.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()
	rec.Wait()
	err := app.pool.Wait()

	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
	return errors.Join(err, app.close())
}

func (app *App) close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}
