package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// errItemsFailed is returned by commands whose run finished but left at
// least one item failed. The report has already been printed.
var errItemsFailed = errors.New("one or more items failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd := newRootCommand()
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command result onto the process status: 0 when every item
// succeeded or was skipped, 1 when the run completed with failed items, and 2
// when the run could not start or was aborted.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errItemsFailed):
		return 1
	default:
		return 2
	}
}
