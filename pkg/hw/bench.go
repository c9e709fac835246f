package hw

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Step is one leg of a bench load profile.
type Step struct {
	Load     float64 // amps drawn while the step is active
	Duration time.Duration
}

// DefaultProfile models a device that idles, wakes up to work, peaks and
// goes back to sleep. It keeps simulated telemetry moving without any
// operator input.
func DefaultProfile() []Step {
	return []Step{
		{Load: 0.15, Duration: 10 * time.Second},
		{Load: 0.80, Duration: 20 * time.Second},
		{Load: 1.20, Duration: 5 * time.Second},
		{Load: 0.80, Duration: 15 * time.Second},
		{Load: 0.15, Duration: 10 * time.Second},
	}
}

// Bench steps a Sim through a repeating load profile.
type Bench struct {
	sim   *Sim
	steps []Step
	log   zerolog.Logger
}

// NewBench wraps sim with a profile. A nil or empty profile selects
// DefaultProfile.
func NewBench(sim *Sim, steps []Step, log zerolog.Logger) *Bench {
	if len(steps) == 0 {
		steps = DefaultProfile()
	}
	return &Bench{
		sim:   sim,
		steps: steps,
		log:   log.With().Str("component", "bench").Logger(),
	}
}

// Run applies the profile step by step until ctx is done, wrapping around
// at the end.
func (b *Bench) Run(ctx context.Context) {
	for i := 0; ; i = (i + 1) % len(b.steps) {
		step := b.steps[i]
		b.sim.SetLoad(step.Load)
		b.log.Debug().Float64("amps", step.Load).Dur("for", step.Duration).Msg("bench step")
		select {
		case <-ctx.Done():
			return
		case <-time.After(step.Duration):
		}
	}
}
