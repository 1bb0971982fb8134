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

	cmd := app.NewCommand(app.StageReport, "Export the day's ledger activity and mail a summary", app.Report)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		stop()
		os.Exit(1)
	}
}
