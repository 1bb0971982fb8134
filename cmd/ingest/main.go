package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/pdfrasterflow/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := app.NewCommand(app.StageIngest, "Fetch the day's PDFs from the remote source", app.Ingest)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		stop()
		os.Exit(1)
	}
}
