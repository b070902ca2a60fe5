package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bpbradley/locket/cmd/locket/commands"
	"github.com/bpbradley/locket/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer secure.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := commands.NewRootCommand(commands.BuildInfo{Version: version, Commit: commit, Date: date})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a command failure to locket's documented exit codes:
// 0 success, 1 configuration error, 2 resolution failure, 3 materialization
// failure, 64 internal error.
func exitCodeFor(err error) int {
	code, ok := commands.ExitCode(err)
	if !ok {
		return 64
	}
	return code
}
