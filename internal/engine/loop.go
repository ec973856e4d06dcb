package engine

import (
	"sync"
	"time"

	"RacePool/internal/observability"

	"github.com/rs/zerolog"
)

// Runner drives one engine on a self-rescheduling timer: the next tick is
// armed only after the current one returns, so two ticks for the same room
// can never execute concurrently, even when a tick overruns its budget.
type Runner struct {
	engine   *Engine
	interval time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger

	// OnTick receives a state snapshot after every tick; OnDone receives
	// the terminal snapshot exactly once. Both run on the loop goroutine.
	OnTick func(State)
	OnDone func(State)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewRunner(e *Engine, interval time.Duration, metrics *observability.Metrics) *Runner {
	return &Runner{
		engine:   e,
		interval: interval,
		metrics:  metrics,
		log:      observability.NewLogger("tick-loop").With().Str("room_id", e.RoomID.String()).Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop goroutine.
func (r *Runner) Start() {
	if r.metrics != nil {
		r.metrics.EnginesActive.Inc()
	}
	go r.run()
}

// Stop terminates the loop without waiting for race completion. Safe to
// call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Done is closed when the loop has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) run() {
	defer close(r.done)
	defer func() {
		if r.metrics != nil {
			r.metrics.EnginesActive.Dec()
		}
	}()

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
		}

		start := time.Now()
		r.safeTick()
		elapsed := time.Since(start)

		if r.metrics != nil {
			r.metrics.TickDuration.WithLabelValues("race").Observe(elapsed.Seconds())
		}

		if r.engine.IsGameOver() {
			if r.OnDone != nil {
				r.OnDone(r.engine.Snapshot())
			}
			return
		}

		// Reschedule only after the tick completed.
		next := r.interval - elapsed
		if next <= 0 {
			next = time.Millisecond
			if r.metrics != nil {
				r.metrics.TickOverruns.Inc()
			}
		}
		timer.Reset(next)
	}
}

// safeTick runs one tick, recovering panics so a bad tick never kills the
// room's loop. Recovered panics feed the operator alert counter: the loop
// surviving is best-effort resilience, accumulated drift is still an
// incident.
func (r *Runner) safeTick() {
	defer func() {
		if rec := recover(); rec != nil {
			if r.metrics != nil {
				r.metrics.TickErrors.Inc()
			}
			r.log.Error().
				Interface("panic", rec).
				Int64("tick", r.engine.Tick()).
				Msg("tick panicked, continuing on next schedule")
		}
	}()

	r.engine.Update()
	if r.OnTick != nil {
		r.OnTick(r.engine.Snapshot())
	}
}
