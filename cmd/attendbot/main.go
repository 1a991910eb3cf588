package main

import (
	"context"

	"attendbot-backend/cmd/attendbot/commands"
	"attendbot-backend/lib/serviceutil"
	"attendbot-backend/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	t, err := telemetry.SetupFromEnv(ctx, "attendbot")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InitSlog(false)

	commands.ExecuteContext(ctx)
}
