package background

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Pruner is the hook the session manager calls on refresh. Implementations
// decide whether to do anything; failures must never reach the caller.
type Pruner interface {
	MaybePrune(ctx context.Context)
}

// ExpiredDeleter is implemented by repositories that can drop expired rows.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// SampledPruner deletes expired refresh tokens and tickets on a small random
// fraction of calls, bounding storage without a dedicated scheduler. The
// random source is injectable so tests can force or suppress pruning.
type SampledPruner struct {
	targets     []ExpiredDeleter
	logger      *slog.Logger
	probability float64
	randFloat   func() float64

	mu      sync.Mutex
	running bool
}

// NewSampledPruner creates a pruner firing with the given probability per call.
func NewSampledPruner(logger *slog.Logger, probability float64, targets ...ExpiredDeleter) *SampledPruner {
	return &SampledPruner{
		targets:     targets,
		logger:      logger,
		probability: probability,
		randFloat:   rand.Float64,
	}
}

// SetRandSource overrides the sampling source; tests pass a deterministic one.
func (p *SampledPruner) SetRandSource(f func() float64) {
	p.randFloat = f
}

// MaybePrune samples and, when selected, prunes in the background. It never
// blocks the caller and swallows every failure after logging it.
func (p *SampledPruner) MaybePrune(ctx context.Context) {
	if p.randFloat() >= p.probability {
		return
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	// Detached from the request context: the triggering request must not
	// wait for or be failed by pruning.
	go func() {
		defer func() {
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
		}()

		pruneCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, target := range p.targets {
			deleted, err := target.DeleteExpired(pruneCtx)
			if err != nil {
				p.logger.Error("expired row pruning failed", slog.Any("error", err))
				continue
			}
			if deleted > 0 {
				p.logger.Info("pruned expired rows", slog.Int64("rows_deleted", deleted))
			}
		}
	}()
}

// NopPruner disables opportunistic pruning; used when the probability is zero
// and in tests that must not race against background deletes.
type NopPruner struct{}

func (NopPruner) MaybePrune(ctx context.Context) {}
