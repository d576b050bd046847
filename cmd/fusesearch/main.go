// Package main provides the entry point for the fusesearch CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aman-CERP/fusesearch/cmd/fusesearch/cmd"
	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprint(os.Stderr, apperrors.FormatForCLI(err))
		os.Exit(1)
	}
}
