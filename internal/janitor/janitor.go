// Package janitor periodically prunes expired session records and
// revocation entries once they are older than the retention window.
package janitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes entries whose expiry is before cutoff and reports how many
// were removed. session.Store and revocation.Store both satisfy it.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Target is one named store to prune.
type Target struct {
	Name   string
	Pruner Pruner
}

// Config controls a Janitor.
type Config struct {
	Interval  time.Duration
	Retention time.Duration
	// Timeout bounds one pass over all targets. Zero means Interval.
	Timeout time.Duration
	Now     func() time.Time
}

// Result reports one pass.
type Result struct {
	Cutoff  time.Time
	Removed map[string]int64
	Err     error
}

// Janitor runs prune passes on a ticker until stopped.
type Janitor struct {
	cfg     Config
	targets []Target
	logger  *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// New returns a Janitor. Call Start to begin the loop.
func New(cfg Config, logger *zap.Logger, targets ...Target) (*Janitor, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("janitor: interval must be > 0")
	}
	if cfg.Retention < 0 {
		return nil, errors.New("janitor: retention must be >= 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		cfg:     cfg,
		targets: targets,
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the background loop. Only the first call has an effect, and
// none after Stop.
func (j *Janitor) Start() {
	j.startOnce.Do(func() { go j.loop() })
}

// Stop ends the loop and waits for an in-flight pass to finish. It is safe
// to call without Start and more than once.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.startOnce.Do(func() { close(j.done) })
	<-j.done
}

func (j *Janitor) loop() {
	defer close(j.done)
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), j.cfg.Timeout)
			j.RunOnce(ctx)
			cancel()
		case <-j.stopCh:
			return
		}
	}
}

// RunOnce prunes every target with cutoff now-Retention. A failing target
// does not stop the others; their errors are joined in Result.Err.
func (j *Janitor) RunOnce(ctx context.Context) Result {
	res := Result{
		Cutoff:  j.cfg.Now().Add(-j.cfg.Retention),
		Removed: make(map[string]int64, len(j.targets)),
	}

	var errs []error
	for _, t := range j.targets {
		n, err := t.Pruner.Prune(ctx, res.Cutoff)
		if err != nil {
			j.logger.Warn("prune failed", zap.String("store", t.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		res.Removed[t.Name] = n
		if n > 0 {
			j.logger.Info("pruned expired entries",
				zap.String("store", t.Name),
				zap.Int64("removed", n),
				zap.Time("cutoff", res.Cutoff),
			)
		}
	}
	res.Err = errors.Join(errs...)
	return res
}
