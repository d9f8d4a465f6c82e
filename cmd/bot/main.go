package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"steamwatch/internal/app"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the config file (JSON or YAML)")
	flag.Parse()

	a, err := app.New(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "steamwatch:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Best-effort sd_notify; a no-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer func() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "steamwatch:", err)
		os.Exit(1)
	}
}
