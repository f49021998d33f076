package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-batch-sender/internal/telemetry"
)

func TestNewTracerProvider(t *testing.T) {
	t.Run("given no endpoint, it should return a no-op provider", func(t *testing.T) {
		tp, err := telemetry.NewTracerProvider("svc", "")
		require.NoError(t, err)
		assert.NoError(t, tp.Shutdown(context.Background()))
	})

	t.Run("given an endpoint, it should build and shut down", func(t *testing.T) {
		tp, err := telemetry.NewTracerProvider("svc", "localhost:4318")
		require.NoError(t, err)
		assert.NoError(t, tp.Shutdown(context.Background()))
	})
}
