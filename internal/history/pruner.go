package history

import (
	"context"
	"time"
)

// Logger is the subset of logging used by the pruner.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Pruner periodically deletes journal entries past their retention.
type Pruner struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	logger    Logger
}

// NewPruner creates a pruner. Run does nothing until called.
func NewPruner(repo Repository, retention, interval time.Duration) *Pruner {
	return &Pruner{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for prune results.
func (p *Pruner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// PruneOnce runs a single prune pass and logs the outcome.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	n, err := p.repo.Prune(ctx, p.retention)
	if err != nil {
		p.logger.Error("pruning sensor history failed", "error", err)
		return 0, err
	}
	if n > 0 {
		p.logger.Info("pruned sensor history", "deleted", n, "retention", p.retention.String())
	}
	return n, nil
}

// Run prunes immediately and then every interval until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	_, _ = p.PruneOnce(ctx) //nolint:errcheck // logged

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.PruneOnce(ctx) //nolint:errcheck // logged
		}
	}
}
