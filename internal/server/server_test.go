package server_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/internal/server"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("serves until context is cancelled and runs hooks in order", func(t *testing.T) {
		t.Parallel()

		addr := freeAddr(t)
		ctx, cancel := context.WithCancel(context.Background())

		var order []string
		started := make(chan struct{})
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		done := make(chan error, 1)
		go func() {
			done <- server.Run(ctx, handler,
				server.Address(addr),
				server.StartupHook(func(context.Context) error {
					order = append(order, "start")
					close(started)
					return nil
				}),
				server.ShutdownHook(func(context.Context) error {
					order = append(order, "stop-1")
					return nil
				}),
				server.ShutdownHook(func(context.Context) error {
					order = append(order, "stop-2")
					return nil
				}),
			)
		}()

		<-started
		require.Eventually(t, func() bool {
			resp, err := http.Get("http://" + addr)
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode == http.StatusNoContent
		}, 2*time.Second, 10*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
		assert.Equal(t, []string{"start", "stop-1", "stop-2"}, order)
	})

	t.Run("failing startup hook aborts and still cleans up", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		cleaned := false

		err := server.Run(context.Background(), http.NotFoundHandler(),
			server.Address(freeAddr(t)),
			server.StartupHook(func(context.Context) error { return boom }),
			server.ShutdownHook(func(context.Context) error {
				cleaned = true
				return nil
			}),
		)
		require.ErrorIs(t, err, boom)
		assert.True(t, cleaned)
	})

	t.Run("shutdown hook errors are returned", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		boom := errors.New("close failed")
		err := server.Run(ctx, http.NotFoundHandler(),
			server.Address(freeAddr(t)),
			server.ShutdownHook(func(context.Context) error { return boom }),
		)
		require.ErrorIs(t, err, boom)
	})
}
