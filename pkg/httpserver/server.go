package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrymomot/modserve/pkg/logger"
)

type task struct {
	name string
	run  func(ctx context.Context) error
}

type config struct {
	addr              string
	listener          net.Listener
	readHeaderTimeout time.Duration
	readTimeout       time.Duration
	writeTimeout      time.Duration
	idleTimeout       time.Duration
	shutdownTimeout   time.Duration
	logger            *slog.Logger
	tasks             []task
	startHooks        []func(net.Addr)
	stopHooks         []func()
}

func defaultConfig() *config {
	return &config{
		addr:              ":8080",
		readHeaderTimeout: 10 * time.Second,
		shutdownTimeout:   10 * time.Second,
		logger:            logger.NewNop(),
	}
}

// Server serves one handler and supervises the background tasks next to it.
type Server struct {
	cfg *config

	mu      sync.Mutex
	srv     *http.Server
	addr    net.Addr
	stopped chan struct{}

	stopOnce sync.Once
	shutOnce sync.Once
	shutErr  error
}

func New(opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Server{cfg: cfg, stopped: make(chan struct{})}
}

// Addr returns the bound address, or nil before Run has started listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens and blocks until ctx is done, a signal arrives, Shutdown is
// called, the listener fails or a task fails.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	cfg := s.cfg

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, ErrRunning)
	}
	ln := cfg.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.addr)
		if err != nil {
			s.mu.Unlock()
			return errors.Join(ErrStart, err)
		}
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.readHeaderTimeout,
		ReadTimeout:       cfg.readTimeout,
		WriteTimeout:      cfg.writeTimeout,
		IdleTimeout:       cfg.idleTimeout,
		ErrorLog:          slog.NewLogLogger(cfg.logger.Handler(), slog.LevelWarn),
	}
	s.srv = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTasks()
	taskErr := make(chan error, len(cfg.tasks))
	var wg sync.WaitGroup
	for _, t := range cfg.tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.run(taskCtx); err != nil && taskCtx.Err() == nil {
				cfg.logger.Error("background task failed", logger.Component(t.name), logger.Error(err))
				taskErr <- errors.Join(ErrTask, err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	cfg.logger.Info("http server started", slog.String("addr", ln.Addr().String()))
	for _, h := range cfg.startHooks {
		h(ln.Addr())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	var runErr error
	select {
	case <-ctx.Done():
	case sg := <-sig:
		cfg.logger.Info("shutdown signal received", slog.String("signal", sg.String()))
	case <-s.stopped:
	case runErr = <-taskErr:
	case runErr = <-serveErr:
		if errors.Is(runErr, http.ErrServerClosed) {
			runErr = nil
		} else {
			runErr = errors.Join(ErrStart, runErr)
		}
	}

	if err := s.shutdown(context.Background()); err != nil {
		runErr = errors.Join(runErr, err)
	}
	cancelTasks()
	wg.Wait()
	for _, h := range cfg.stopHooks {
		h()
	}
	cfg.logger.Info("http server stopped")
	return runErr
}

// Shutdown stops accepting connections and makes Run return once in-flight
// requests finish or the shutdown timeout passes. It is safe to call more
// than once, and before Run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopped) })
	return s.shutdown(ctx)
}

func (s *Server) shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.shutOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.shutErr = errors.Join(ErrShutdown, err)
			_ = srv.Close()
		}
	})
	return s.shutErr
}
