// Command ingest runs market data ingestion workflows.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/erp/ingestor/internal/interfaces/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
