package middlewares_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/middlewares"
)

func TestPanicError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "string value", value: "something went wrong", want: "panic: something went wrong"},
		{name: "non-string value", value: 42, want: "panic: 42"},
		{name: "nil value", value: nil, want: "panic: <nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := &middlewares.PanicError{Value: tt.value}
			require.Equal(t, tt.want, err.Error())
		})
	}
}

func TestTimeoutError(t *testing.T) {
	t.Parallel()

	t.Run("formats duration", func(t *testing.T) {
		t.Parallel()

		err := &middlewares.TimeoutError{Duration: 100 * time.Millisecond}
		require.Equal(t, "request timeout after 100ms", err.Error())
	})

	t.Run("matches context deadline", func(t *testing.T) {
		t.Parallel()

		err := &middlewares.TimeoutError{Duration: time.Second}
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	t.Run("finds wrapped PanicError", func(t *testing.T) {
		t.Parallel()

		err := fmt.Errorf("handler: %w", &middlewares.PanicError{Value: "boom"})
		require.True(t, middlewares.IsPanicError(err))

		pe, ok := middlewares.AsPanicError(err)
		require.True(t, ok)
		require.Equal(t, "boom", pe.Value)
	})

	t.Run("finds joined TimeoutError", func(t *testing.T) {
		t.Parallel()

		err := errors.Join(errors.New("query failed"), &middlewares.TimeoutError{Duration: time.Second})
		require.True(t, middlewares.IsTimeoutError(err))

		te, ok := middlewares.AsTimeoutError(err)
		require.True(t, ok)
		require.Equal(t, time.Second, te.Duration)
	})

	t.Run("rejects other errors", func(t *testing.T) {
		t.Parallel()

		err := errors.New("plain")
		require.False(t, middlewares.IsPanicError(err))
		require.False(t, middlewares.IsTimeoutError(err))

		_, ok := middlewares.AsPanicError(err)
		require.False(t, ok)
		_, ok = middlewares.AsTimeoutError(err)
		require.False(t, ok)
	})
}
