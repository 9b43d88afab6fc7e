// Command gi builds models from config documents and runs inference on them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/tsawler/go-infer/errtypes"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode gives each error kind its own status so scripts can tell a bad
// config from a bad input or a missing file
func exitCode(err error) int {
	switch errtypes.KindOf(err) {
	case errtypes.Config:
		return 2
	case errtypes.Validation:
		return 3
	case errtypes.State:
		return 4
	case errtypes.IO:
		return 5
	default:
		return 1
	}
}
