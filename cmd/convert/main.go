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

	cmd := app.NewCommand(app.StageConvert, "Rasterize the day's incoming PDFs to JPEG pages", app.Convert)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "convert: %v\n", err)
		stop()
		os.Exit(1)
	}
}
