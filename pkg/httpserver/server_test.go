package httpserver_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/modserve/pkg/httpserver"
)

func listener(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "unable to listen")
	return l
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		require.Fail(t, "run did not finish")
		return nil
	}
}

func TestRunAndCancel(t *testing.T) {
	t.Parallel()
	started := make(chan net.Addr, 1)
	srv := httpserver.New(
		httpserver.WithListener(listener(t)),
		httpserver.WithShutdownTimeout(100*time.Millisecond),
		httpserver.WithStartHook(func(a net.Addr) { started <- a }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}))
	}()
	addr := <-started
	assert.Equal(t, addr.String(), srv.Addr().String())

	resp, err := http.Get("http://" + addr.String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok", string(body))

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	t.Run("manual and repeated", func(t *testing.T) {
		t.Parallel()
		started := make(chan struct{})
		srv := httpserver.New(
			httpserver.WithListener(listener(t)),
			httpserver.WithShutdownTimeout(100*time.Millisecond),
			httpserver.WithStartHook(func(net.Addr) { close(started) }),
		)
		done := make(chan error, 1)
		go func() { done <- srv.Run(context.Background(), nil) }()
		<-started

		require.NoError(t, srv.Shutdown(context.Background()))
		require.NoError(t, srv.Shutdown(context.Background()))
		require.NoError(t, waitDone(t, done))
	})

	t.Run("before run", func(t *testing.T) {
		t.Parallel()
		srv := httpserver.New(httpserver.WithListener(listener(t)))
		require.NoError(t, srv.Shutdown(context.Background()))

		done := make(chan error, 1)
		go func() { done <- srv.Run(context.Background(), nil) }()
		require.NoError(t, waitDone(t, done))
	})
}

func TestStartError(t *testing.T) {
	t.Parallel()
	srv := httpserver.New(httpserver.WithAddr(":invalid"))
	err := srv.Run(context.Background(), nil)
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestAlreadyRunning(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	srv := httpserver.New(
		httpserver.WithListener(listener(t)),
		httpserver.WithShutdownTimeout(50*time.Millisecond),
		httpserver.WithStartHook(func(net.Addr) { close(started) }),
	)
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background(), nil) }()
	<-started

	err := srv.Run(context.Background(), nil)
	assert.ErrorIs(t, err, httpserver.ErrRunning)

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, waitDone(t, done))
}

func TestTasks(t *testing.T) {
	t.Parallel()

	t.Run("cancelled on stop", func(t *testing.T) {
		t.Parallel()
		var exited, stopped atomic.Bool
		running := make(chan struct{})
		srv := httpserver.New(
			httpserver.WithListener(listener(t)),
			httpserver.WithTask("watch", func(ctx context.Context) error {
				close(running)
				<-ctx.Done()
				exited.Store(true)
				return ctx.Err()
			}),
			httpserver.WithStopHook(func() { stopped.Store(exited.Load()) }),
		)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx, nil) }()
		<-running
		cancel()

		require.NoError(t, waitDone(t, done))
		assert.True(t, exited.Load())
		assert.True(t, stopped.Load(), "stop hooks run after tasks exit")
	})

	t.Run("failure stops the server", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("watcher died")
		srv := httpserver.New(
			httpserver.WithListener(listener(t)),
			httpserver.WithTask("watch", func(context.Context) error { return boom }),
		)
		done := make(chan error, 1)
		go func() { done <- srv.Run(context.Background(), nil) }()

		err := waitDone(t, done)
		assert.ErrorIs(t, err, httpserver.ErrTask)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("early nil return keeps serving", func(t *testing.T) {
		t.Parallel()
		started := make(chan struct{})
		srv := httpserver.New(
			httpserver.WithListener(listener(t)),
			httpserver.WithTask("once", func(context.Context) error { return nil }),
			httpserver.WithStartHook(func(net.Addr) { close(started) }),
		)
		done := make(chan error, 1)
		go func() { done <- srv.Run(context.Background(), nil) }()
		<-started

		select {
		case <-done:
			require.Fail(t, "server stopped after a task returned nil")
		case <-time.After(100 * time.Millisecond):
		}
		require.NoError(t, srv.Shutdown(context.Background()))
		require.NoError(t, waitDone(t, done))
	})
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	srv := httpserver.NewFromConfig(httpserver.Config{
		ReadTimeout:     time.Second,
		ShutdownTimeout: 50 * time.Millisecond,
	}, httpserver.WithListener(listener(t)), httpserver.WithStartHook(func(net.Addr) { close(started) }))

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background(), nil) }()
	<-started

	resp, err := http.Get("http://" + srv.Addr().String() + "/missing")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, waitDone(t, done))
}

func TestOptionPanics(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fn   func()
	}{
		{"addr", func() { httpserver.WithAddr("") }},
		{"listener", func() { httpserver.WithListener(nil) }},
		{"read header", func() { httpserver.WithReadHeaderTimeout(0) }},
		{"read", func() { httpserver.WithReadTimeout(-time.Second) }},
		{"write", func() { httpserver.WithWriteTimeout(-time.Second) }},
		{"idle", func() { httpserver.WithIdleTimeout(-time.Second) }},
		{"shutdown", func() { httpserver.WithShutdownTimeout(-time.Second) }},
		{"task", func() { httpserver.WithTask("x", nil) }},
		{"start hook", func() { httpserver.WithStartHook(nil) }},
		{"stop hook", func() { httpserver.WithStopHook(nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Panics(t, tt.fn)
		})
	}
}
