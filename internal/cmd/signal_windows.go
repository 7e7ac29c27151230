package cmd

import "context"

// watchForeground is a no-op: Windows has no job-control resume signal.
func watchForeground(ctx context.Context, wake func()) {}
