package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"swingbot/internal/ledger"
	"swingbot/internal/md"
	"swingbot/internal/monitor"
)

// Pacing is the admission-control policy: at most Burst dispatches, refilled
// over Interval, so a batch of bars cannot sweep past the broker's request
// rate ceiling.
type Pacing struct {
	Burst    int
	Interval time.Duration
}

func DefaultPacing() Pacing {
	return Pacing{Burst: 4, Interval: 1100 * time.Millisecond}
}

// Persister receives a monitor snapshot after every run.
type Persister interface {
	Put(symbol string, data []byte) error
}

type Config struct {
	Workers int
	Pacing  Pacing
}

type task struct {
	mon *monitor.Monitor
	bar md.Bar
}

// Scheduler is the top-level driver for one asset class: it pulls bars off
// the market-data channel, gates on the trading calendar, fans runs out to a
// bounded worker pool under the pacing policy, and persists each monitor
// after its run. Pool size bounds how many orders can be in flight at once,
// since a dispatched run blocks on its gateway reply.
type Scheduler struct {
	monitors map[string]*monitor.Monitor
	led      *ledger.Ledger
	bars     <-chan md.Bar
	store    Persister
	tasks    chan task
	workers  int
	limiter  *rate.Limiter
	now      func() time.Time
}

func New(cfg Config, monitors []*monitor.Monitor, led *ledger.Ledger, bars <-chan md.Bar, store Persister) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Pacing.Burst <= 0 || cfg.Pacing.Interval <= 0 {
		cfg.Pacing = DefaultPacing()
	}
	bySymbol := make(map[string]*monitor.Monitor, len(monitors))
	for _, m := range monitors {
		bySymbol[m.Symbol()] = m
	}
	return &Scheduler{
		monitors: bySymbol,
		led:      led,
		bars:     bars,
		store:    store,
		tasks:    make(chan task, cfg.Workers),
		workers:  cfg.Workers,
		limiter: rate.NewLimiter(
			rate.Limit(float64(cfg.Pacing.Burst)/cfg.Pacing.Interval.Seconds()),
			cfg.Pacing.Burst,
		),
		now: time.Now,
	}
}

// Run drives the loop until the context is cancelled or the bar channel
// closes.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Int("workers", s.workers).Int("monitors", len(s.monitors)).Msg("ticker loop started")

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}
	defer func() {
		close(s.tasks)
		wg.Wait()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		// Outside market days there is nothing to dispatch; nap and re-check.
		if !marketDay(s.now()) {
			if !s.sleep(ctx, 2*time.Second) {
				return
			}
			continue
		}

		var first md.Bar
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-s.bars:
			if !ok {
				return
			}
			first = bar
		case <-time.After(500 * time.Millisecond):
			// No queued market events; avoid busy-spinning.
			continue
		}

		batch := s.drain(first)
		before := s.led.Cash()
		log.Info().Int("bars", len(batch)).Msg("processing stocks")

		for _, bar := range batch {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.dispatch(ctx, bar)
		}

		log.Info().Float64("profit", s.led.Cash()-before).Msg("batch dispatched")
	}
}

func (s *Scheduler) drain(first md.Bar) []md.Bar {
	batch := []md.Bar{first}
	for {
		select {
		case bar, ok := <-s.bars:
			if !ok {
				return batch
			}
			batch = append(batch, bar)
		default:
			return batch
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, bar md.Bar) {
	mon, ok := s.monitors[bar.Symbol]
	if !ok {
		log.Warn().Str("symbol", bar.Symbol).Msg("bar for unwatched symbol dropped")
		return
	}
	select {
	case s.tasks <- task{mon: mon, bar: bar}:
	case <-ctx.Done():
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-s.tasks:
			if !ok {
				return
			}
			s.runOne(t)
		}
	}
}

func (s *Scheduler) runOne(t task) {
	ran, err := t.mon.TryRun(s.led, &t.bar)
	if !ran {
		log.Info().Str("symbol", t.bar.Symbol).Msg("monitor busy, tick skipped")
		return
	}
	if err != nil {
		// Aborts this run only; the process keeps ticking.
		log.Error().Err(err).Str("symbol", t.bar.Symbol).Msg("monitor run failed")
	}

	// Persist after every run, success or not. A store failure is logged and
	// never blocks the next tick.
	data, err := t.mon.Snapshot()
	if err != nil {
		log.Error().Err(err).Str("symbol", t.bar.Symbol).Msg("snapshot failed")
		return
	}
	if err := s.store.Put(t.mon.Symbol(), data); err != nil {
		log.Error().Err(err).Str("symbol", t.bar.Symbol).Msg("state store write failed")
	}
}

// sleep waits or reports false when the context ends first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func marketDay(t time.Time) bool {
	switch t.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}
