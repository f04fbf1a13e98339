// Package trigger delivers external "save now" requests to the daemon.
package trigger

import (
	"context"
	"sync"
)

// Logger interface for the trigger package to avoid circular dependencies
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Source calls fire once per received trigger until ctx is done. fire must
// not block.
type Source interface {
	Name() string
	Run(ctx context.Context, fire func()) error
}

// RunAll runs every source until ctx is done. A source that fails is logged
// and does not affect the others.
func RunAll(ctx context.Context, sources []Source, fire func(), logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			logger.Printf("Trigger source %s started", src.Name())
			if err := src.Run(ctx, fire); err != nil && ctx.Err() == nil {
				logger.Printf("Trigger source %s stopped: %v", src.Name(), err)
			}
		}(src)
	}
	wg.Wait()
}
