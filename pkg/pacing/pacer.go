// Package pacing implements consecutive-call tracking and forced pauses to
// respect the registry's rate limits. After a configured number of
// consecutive remote calls, the next call is blocked for the configured
// pause before proceeding.
package pacing

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for call pacing.
var (
	afipConsecutiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "afip_consecutive_calls",
		Help: "Number of consecutive registry calls since the last pause",
	})

	afipPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afip_pauses_total",
		Help: "Total number of forced pauses taken after reaching the call limit",
	})

	afipPausedSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afip_paused_seconds_total",
		Help: "Total wall-clock seconds spent in forced pauses",
	})
)

// Pacer gates remote calls. It counts consecutive calls and forces a
// blocking pause once the limit is reached. It is owned by a single
// goroutine; the pipeline is strictly sequential, so no locking is needed.
type Pacer struct {
	maxCalls int
	pause    time.Duration
	limiter  *rate.Limiter
	calls    int
	logger   zerolog.Logger
}

// New creates a Pacer that pauses for pause after maxCalls consecutive
// calls. When rps > 0, calls are additionally smoothed to at most rps
// requests per second.
func New(maxCalls int, pause time.Duration, rps float64, logger zerolog.Logger) *Pacer {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	return &Pacer{
		maxCalls: maxCalls,
		pause:    pause,
		limiter:  limiter,
		logger:   logger,
	}
}

// BeforeCall must be invoked immediately before every remote call, retries
// included. When the consecutive-call counter has reached the limit it
// sleeps for the pause duration and resets the counter. The pause is a
// plain blocking sleep; cancellation is honored by callers at attempt
// boundaries, never mid-pause.
func (p *Pacer) BeforeCall(ctx context.Context) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.logger.Debug().Err(err).Msg("Rate limiter wait interrupted")
		}
	}

	if p.maxCalls > 0 && p.calls >= p.maxCalls {
		p.logger.Info().
			Int("max_calls", p.maxCalls).
			Dur("pause_duration", p.pause).
			Msg("Reached maximum consecutive calls, pausing")

		afipPausesTotal.Inc()
		afipPausedSecondsTotal.Add(p.pause.Seconds())
		time.Sleep(p.pause)

		p.calls = 0
		afipConsecutiveCalls.Set(0)
	}

	p.calls++
	afipConsecutiveCalls.Set(float64(p.calls))
}

// Calls returns the number of consecutive calls since the last pause.
func (p *Pacer) Calls() int {
	return p.calls
}

// Reset clears the consecutive-call counter, as at the start of a run.
func (p *Pacer) Reset() {
	p.calls = 0
	afipConsecutiveCalls.Set(0)
}
