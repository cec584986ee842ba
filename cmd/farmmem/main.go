// Command farmmem is the command-line front end of the farming advisor's
// conversational memory. It records conversation turns, composes the memory
// context for a new farmer message, mines recurring topics and consolidates
// finished sessions. Results are printed as JSON on stdout.
//
// Configuration comes from FARMMEM_* environment variables, optionally
// seeded from a .env file in the working directory.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	Execute(ctx)
}
