// Package meter runs the measurement and reporting loop of one metering
// agent: sample the pins, average the window, emit the status line, then
// dispatch at most one pending command batch. The loop is the only writer
// of the settings record; the operator API reads and replaces it through
// the accessors.
package meter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reef-pi/hal"
	"github.com/rs/zerolog"

	"github.com/rriggio/energino/pkg/command"
	"github.com/rriggio/energino/pkg/console"
	"github.com/rriggio/energino/pkg/feeds"
	"github.com/rriggio/energino/pkg/hw"
	"github.com/rriggio/energino/pkg/sample"
	"github.com/rriggio/energino/pkg/settings"
	"github.com/rriggio/energino/pkg/telemetry"
)

const (
	// DefaultSampleEvery is the raw sampling cadence, about 400 readings
	// per default report window.
	DefaultSampleEvery = 5 * time.Millisecond

	// DefaultHistorySize bounds the readings retained for the API.
	DefaultHistorySize = 720

	publishTimeout = 10 * time.Second
	reportBacklog  = 4
)

// Options tune the loop.
type Options struct {
	ARef        float64       // ADC reference (mV), 0 selects sample.DefaultARef
	SampleEvery time.Duration // raw sampling cadence, 0 selects the default
	HistorySize int           // retained readings, 0 selects the default
}

// Meter owns the settings record, the resolved pins and the measurement
// window. All mutable state is guarded by mu; the loop and the API
// accessors take it for every touch.
type Meter struct {
	drv   hw.Driver
	store settings.Store
	con   console.Console
	feed  feeds.Feed
	mx    *telemetry.Metrics
	log   zerolog.Logger

	aref        float64
	sampleEvery time.Duration
	historySize int

	mu          sync.Mutex
	st          settings.Settings
	pins        hw.Pins
	proc        *command.Processor
	conv        sample.Converter
	acc         sample.Accumulator
	windowStart time.Time
	last        sample.Reading
	haveLast    bool
	history     []sample.Reading

	reports chan telemetry.Report
}

// pinsRef hands the dispatcher the live pins. Only Process touches it,
// and Process always runs with m.mu held.
type pinsRef struct{ m *Meter }

func (p pinsRef) CurrentPin() hal.AnalogInputPin { return p.m.pins.Current }
func (p pinsRef) RelayPin() hal.DigitalOutputPin { return p.m.pins.Relay }

// New loads the settings record, provisioning defaults on first start,
// resolves the pins it names and assembles the loop. The feed may be nil
// when uploads are not configured.
func New(drv hw.Driver, store settings.Store, con console.Console, feed feeds.Feed, mx *telemetry.Metrics, opts Options, log zerolog.Logger) (*Meter, error) {
	st, err := settings.LoadOrProvision(store)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	pins, err := hw.Resolve(drv, st)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pins: %w", err)
	}
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = DefaultSampleEvery
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}

	m := &Meter{
		drv:         drv,
		store:       store,
		con:         con,
		feed:        feed,
		mx:          mx,
		log:         log.With().Str("component", "meter").Logger(),
		aref:        opts.ARef,
		sampleEvery: opts.SampleEvery,
		historySize: opts.HistorySize,
		st:          st,
		pins:        pins,
		conv:        sample.NewConverter(st, opts.ARef),
		reports:     make(chan telemetry.Report, reportBacklog),
	}
	m.proc = command.NewProcessor(&m.st, store, pinsRef{m}, con, opts.ARef, log)
	return m, nil
}

// Run drives the loop until ctx is done. Every tick samples both pins;
// when the period has elapsed the window is reported; then at most one
// pending command batch is dispatched. A settings change is persisted
// before the next report can use it.
func (m *Meter) Run(ctx context.Context) error {
	m.mu.Lock()
	m.windowStart = time.Now()
	st := m.st
	m.mu.Unlock()

	m.log.Info().
		Str("magic", st.Magic).
		Int("period_ms", st.Period).
		Dur("sample_every", m.sampleEvery).
		Msg("meter started")

	if m.feed != nil {
		go m.publishLoop(ctx)
	}

	ticker := time.NewTicker(m.sampleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("meter stopped")
			return nil
		case now := <-ticker.C:
			m.step(now)
		}
	}
}

// step runs one loop iteration: measure, report when due, dispatch.
func (m *Meter) step(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.measure()

	period := time.Duration(m.st.Period) * time.Millisecond
	if period <= 0 || now.Sub(m.windowStart) >= period {
		m.report(now)
	}

	select {
	case batch, ok := <-m.con.Batches():
		if ok {
			m.dispatch(batch)
		}
	default:
	}
}

// measure appends one raw reading pair to the window. A failed read is
// logged and the pair skipped, leaving the window sound. m.mu held.
func (m *Meter) measure() {
	v, err := m.pins.Voltage.Value()
	if err != nil {
		m.log.Warn().Err(err).Str("pin", m.pins.Voltage.Name()).Msg("voltage read failed")
		return
	}
	c, err := m.pins.Current.Value()
	if err != nil {
		m.log.Warn().Err(err).Str("pin", m.pins.Current.Name()).Msg("current read failed")
		return
	}
	m.acc.Add(v, c)
}

// report converts the window, emits the status line, retains the reading
// and opens the next window. m.mu held.
func (m *Meter) report(now time.Time) {
	vRaw, cRaw, n := m.acc.Average()
	reading := sample.Reading{
		Time:    now,
		Voltage: m.conv.Voltage(vRaw),
		Current: m.conv.Current(cRaw),
		Power:   m.conv.Power(vRaw, cRaw),
		Samples: n,
	}
	rep := telemetry.Report{
		Magic:        m.st.Magic,
		Revision:     m.st.Revision,
		Voltage:      reading.Voltage,
		Current:      reading.Current,
		Power:        reading.Power,
		RelayOn:      m.pins.Relay.LastState(),
		Period:       m.st.Period,
		Samples:      n,
		VoltageError: m.conv.VoltageError(),
		CurrentError: m.conv.CurrentError(),
	}

	if _, err := m.con.Write([]byte(telemetry.Format(rep))); err != nil {
		m.log.Warn().Err(err).Msg("status line write failed")
	}
	m.mx.ObserveReport(rep)

	m.last = reading
	m.haveLast = true
	m.history = append(m.history, reading)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}

	m.acc.Reset()
	m.windowStart = now

	if m.feed != nil {
		select {
		case m.reports <- rep:
		default:
			m.mx.FeedErrors.Inc()
			m.log.Warn().Msg("feed backlog full, dropping report")
		}
	}
}

// dispatch runs one batch through the command table. A mutation rebuilds
// the converter and re-resolves the pins, so calibration and pin changes
// take effect on the next tick. m.mu held.
func (m *Meter) dispatch(batch []byte) {
	res := m.proc.Process(batch)
	m.mx.ObserveCommand(res.Cmd, res.Mutated, res.Dropped)
	if !res.Mutated {
		return
	}
	m.conv = sample.NewConverter(m.st, m.aref)
	pins, err := hw.Resolve(m.drv, m.st)
	if err != nil {
		m.log.Error().Err(err).Msg("pin resolution failed, keeping previous pins")
		return
	}
	m.pins = pins
}

// publishLoop pushes reports to the feed off the measurement goroutine,
// one at a time.
func (m *Meter) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rep := <-m.reports:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := m.feed.Publish(pubCtx, rep); err != nil {
				m.mx.FeedErrors.Inc()
				m.log.Warn().Err(err).Msg("feed publish failed")
			}
			cancel()
		}
	}
}

// LastReading returns the newest converted window, if one exists yet.
func (m *Meter) LastReading() (sample.Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.haveLast
}

// History returns the retained readings, oldest first, decimated to at
// most max points when max is positive.
func (m *Meter) History(max int) []sample.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]sample.Reading, len(m.history))
	copy(out, m.history)
	if max > 0 && len(out) > max {
		out = sample.Downsample(out[:0], out, max)
	}
	return out
}

// Settings returns a copy of the live settings record.
func (m *Meter) Settings() settings.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// UpdateSettings validates, applies and persists a full settings record,
// rewiring the loop to it. Nothing changes when validation, pin
// resolution or the save fails.
func (m *Meter) UpdateSettings(st settings.Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pins, err := hw.Resolve(m.drv, st)
	if err != nil {
		return fmt.Errorf("failed to resolve pins: %w", err)
	}
	if err := m.store.Save(st); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	m.st = st
	m.pins = pins
	m.conv = sample.NewConverter(st, m.aref)
	m.mx.Saves.Inc()
	return nil
}
