// Package worker implements the gateway's background task supervision:
// a common Worker interface and a Runner that fans workers out under a
// shared errgroup.
package worker

import "context"

// Worker is a long-lived background task. Run blocks until ctx is
// cancelled or the worker encounters an unrecoverable error.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}
