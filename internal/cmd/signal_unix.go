//go:build !windows

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// watchForeground calls wake whenever the process is resumed with SIGCONT,
// e.g. after Ctrl+Z and fg.
func watchForeground(ctx context.Context, wake func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGCONT)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ch:
				wake()
			case <-ctx.Done():
				return
			}
		}
	}()
}
