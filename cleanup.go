package leadguard

import (
	"context"
	"time"

	"github.com/oarkflow/log"
)

// Sweeper evicts guard entries for identities that have gone quiet and
// expires old ledger events. Guard state is otherwise pruned lazily on
// access, so without the sweeper an identity that never returns would pin
// its entry forever.
type Sweeper struct {
	store    GuardStore
	ledger   Ledger
	profiler *TrafficProfiler
	interval time.Duration
	idleTTL  time.Duration
	clock    func() time.Time
	logger   *log.Logger
	metrics  MetricsCollector
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithIdleTTL(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.idleTTL = d
		}
	}
}

func WithSweeperProfiler(p *TrafficProfiler) SweeperOption {
	return func(s *Sweeper) {
		s.profiler = p
	}
}

func WithSweeperClock(clock func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithSweeperLogger(logger *log.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithSweeperMetrics(m MetricsCollector) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func NewSweeper(store GuardStore, ledger Ledger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		ledger:   ledger,
		interval: 15 * time.Minute,
		idleTTL:  30 * time.Minute,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one eviction pass.
func (s *Sweeper) Sweep() {
	cutoff := s.clock().Add(-s.idleTTL)
	removed, err := s.store.SweepIdle(cutoff)
	if err != nil {
		if s.logger != nil {
			s.logger.Error().Err(err).Msg("guard sweep failed")
		}
	} else if removed > 0 && s.logger != nil {
		s.logger.Info().Int("removed", removed).Msg("swept idle guard entries")
	}
	if s.metrics != nil && err == nil {
		s.metrics.IncrementCounter("guard_sweeps_total", nil)
		s.metrics.SetGauge("guard_last_sweep_removed", float64(removed), nil)
	}

	if s.ledger != nil {
		if err := s.ledger.Cleanup(); err != nil && s.logger != nil {
			s.logger.Error().Err(err).Msg("ledger cleanup failed")
		}
	}

	if s.profiler != nil {
		s.profiler.Prune()
	}
}
