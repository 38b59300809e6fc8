package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/devmemory/devmemory/internal/cli"
)

// version, commit, date are injected by the linker via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, version, commit, date)
	stop()
	os.Exit(code)
}
