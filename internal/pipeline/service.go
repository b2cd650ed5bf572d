// Package pipeline assembles the long-running ingestion service: worker
// queue, file watcher, cloud sync and the ops HTTP surface.
package pipeline

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"call-insights-go/internal/cloudsync"
	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/processor"
	"call-insights-go/internal/queue"
	"call-insights-go/internal/store"
	"call-insights-go/internal/watcher"
)

type Options struct {
	// Addr is the ops listen address; empty disables the HTTP server.
	Addr            string
	ShutdownTimeout time.Duration
}

type Service struct {
	store   store.Store
	proc    *processor.Processor
	queue   *queue.Queue
	watcher *watcher.Watcher
	sync    *cloudsync.Worker
	log     *logger.Logger
	opts    Options
	started time.Time
	ready   chan string
}

// New assembles a service. sync may be nil.
func New(st store.Store, proc *processor.Processor, q *queue.Queue, w *watcher.Watcher, sync *cloudsync.Worker, log *logger.Logger, opts Options) *Service {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Service{
		store:   st,
		proc:    proc,
		queue:   q,
		watcher: w,
		sync:    sync,
		log:     log,
		opts:    opts,
		ready:   make(chan string, 1),
	}
}

// FromConfig builds every component from cfg around an open store.
func FromConfig(cfg config.Config, st store.Store, log *logger.Logger) (*Service, error) {
	proc, err := NewProcessor(cfg, st, log.Entry)
	if err != nil {
		return nil, err
	}
	q := queue.New(cfg.QueueSize, cfg.WorkerCount, 0, log.Component("queue"))
	w := watcher.New(watcher.Options{
		Dir:            cfg.AudioFolder,
		StableFor:      time.Duration(cfg.StableSeconds) * time.Second,
		StableTimeout:  cfg.StableTimeoutDuration(),
		MaxFileSize:    cfg.MaxFileSizeBytes(),
		StartupStagger: cfg.StartupStaggerDuration(),
	}, proc, q, st, log.Component("watcher"))
	sync, err := NewSyncWorker(cfg, st, log.Component("cloudsync"))
	if err != nil {
		return nil, err
	}
	if sync == nil {
		log.Info("cloud sync disabled, using local files only")
	}
	addr := ""
	if cfg.Port != "" {
		addr = ":" + cfg.Port
	}
	return New(st, proc, q, w, sync, log, Options{Addr: addr, ShutdownTimeout: cfg.ShutdownTimeoutDuration()}), nil
}

// Run blocks until ctx is cancelled or a component fails. On shutdown the
// queue gets ShutdownTimeout to finish in-flight files before their
// contexts are cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.started = time.Now()
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	s.queue.Start(workerCtx)

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if s.opts.Addr != "" {
		ln, err := net.Listen("tcp", s.opts.Addr)
		if err != nil {
			return err
		}
		srv = &http.Server{
			Handler:      s.Handler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		s.ready <- ln.Addr().String()
		s.log.WithField("addr", ln.Addr().String()).Info("listening")
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error { return s.watcher.Run(gctx) })
	if s.sync != nil {
		g.Go(func() error { return s.sync.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.log.WithError(err).Warn("http shutdown")
			}
		}
		s.queue.Stop(shutdownCtx)
		cancelWorkers()
		return nil
	})

	err := g.Wait()
	s.log.Info("service stopped")
	return err
}

// Addr returns the bound ops address once the listener is up.
func (s *Service) Addr(ctx context.Context) (string, error) {
	select {
	case a := <-s.ready:
		s.ready <- a
		return a, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
