// Command ace runs analytics on ACE data objects, alone, as chunks merged
// afterwards, or split between a coordinator and workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ace: %v\n", err)
		var e *errors.Error
		if errors.As(err, &e) {
			keys := make([]string, 0, len(e.Details))
			for k := range e.Details {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(os.Stderr, "  %s: %v\n", k, e.Details[k])
			}
		}
		os.Exit(1)
	}
}
