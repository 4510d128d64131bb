package telemetry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadPerfStats(t *testing.T) {
	stats, err := ReadPerfStats(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Positive(t, stats.Goroutines)
	require.GreaterOrEqual(t, stats.CpuPercent, 0.0)
}

func TestSetupForTestingWithoutConfig(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	// no telemetry.json5 above a temp dir, only logging is set up
	SetupForTesting(t, "telemetry-test")
	SetupForTesting(t, "telemetry-test")
}

func TestTelemetryShutdownWithoutProviders(t *testing.T) {
	require.NoError(t, Telemetry{}.Shutdown(context.Background()))
}
