package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"siteadapters/cmd/siteadapters/commands"
	"siteadapters/lib/telemetry"
	"siteadapters/lib/util/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()

	telemetry.InitSlog(false)
	tel, err := telemetry.SetupFromEnv(ctx, "siteadapters")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	telemetry.InstrumentPerfStats(ctx)

	code := commands.ExecuteContext(ctx)

	err = tel.Shutdown(context.Background())
	if err != nil {
		slog.Warn("failed to flush telemetry", "err", err)
	}
	os.Exit(code)
}
