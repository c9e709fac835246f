package meter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rriggio/energino/pkg/console"
	"github.com/rriggio/energino/pkg/hw"
	"github.com/rriggio/energino/pkg/settings"
	"github.com/rriggio/energino/pkg/telemetry"
)

type meterFixture struct {
	m     *Meter
	sim   *hw.Sim
	store *settings.MemStore
	pipe  *console.Pipe
	mx    *telemetry.Metrics
}

// newMeterFixture wires a meter to the simulated board with ripple off, so
// every raw reading is deterministic. mutate, when set, seeds the store
// with an edited settings record before the meter loads it.
func newMeterFixture(t *testing.T, mutate func(*settings.Settings)) *meterFixture {
	t.Helper()

	store := settings.NewMemStore()
	if mutate != nil {
		st := settings.Default()
		mutate(&st)
		require.NoError(t, store.Save(st))
	}

	sim := hw.NewSim(hw.DefaultConfig(), zerolog.Nop())
	pipe := console.NewPipe()
	mx := telemetry.NewMetrics(prometheus.NewRegistry())

	m, err := New(sim, store, pipe, nil, mx, Options{}, zerolog.Nop())
	require.NoError(t, err)

	return &meterFixture{m: m, sim: sim, store: store, pipe: pipe, mx: mx}
}

// statusLines parses the '#' telemetry lines out of the console output,
// skipping '@' echo lines.
func statusLines(t *testing.T, out string) []telemetry.Report {
	t.Helper()
	var reps []telemetry.Report
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "#") {
			rep, err := telemetry.Parse(line)
			require.NoError(t, err)
			reps = append(reps, rep)
		}
	}
	return reps
}

func TestNew_ProvisionsDefaults(t *testing.T) {
	f := newMeterFixture(t, nil)

	assert.Equal(t, settings.Default(), f.m.Settings())
	assert.Equal(t, 1, f.store.Saves(), "first start persists the defaults")
}

func TestNew_LoadsExistingRecord(t *testing.T) {
	f := newMeterFixture(t, func(st *settings.Settings) { st.Period = 500 })

	assert.Equal(t, 500, f.m.Settings().Period)
	assert.Equal(t, 1, f.store.Saves(), "loading does not rewrite the record")
}

func TestNew_UnresolvablePins(t *testing.T) {
	store := settings.NewMemStore()
	st := settings.Default()
	st.CurrentPin = 42
	require.NoError(t, store.Save(st))

	sim := hw.NewSim(hw.DefaultConfig(), zerolog.Nop())
	mx := telemetry.NewMetrics(prometheus.NewRegistry())
	_, err := New(sim, store, console.NewPipe(), nil, mx, Options{}, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "current pin 42")
}

func TestStep_ReportGolden(t *testing.T) {
	f := newMeterFixture(t, func(st *settings.Settings) { st.Period = 0 })

	f.m.step(time.Now())

	// 12 V across the 100k/10k divider and 0.8 A through the sensor land
	// on raw counts 223 and 542, which convert back as below.
	assert.Equal(t, "#Energino,1,11.978,0.792,9.48,0,0,1,53,26\n", f.pipe.Output())
}

func TestStep_AccumulatesWindow(t *testing.T) {
	f := newMeterFixture(t, nil)

	for range 10 {
		f.m.step(time.Now())
	}

	// Default period is 2000 ms; the zero window start forces the first
	// step to report, the rest accumulate.
	reps := statusLines(t, f.pipe.Output())
	require.Len(t, reps, 1)
	assert.Equal(t, 1, reps[0].Samples)

	reading, ok := f.m.LastReading()
	require.True(t, ok)
	assert.Equal(t, 1, reading.Samples)
}

func TestStep_CommandAfterReport(t *testing.T) {
	f := newMeterFixture(t, func(st *settings.Settings) { st.Period = 2000 })
	f.m.step(time.Now()) // burn the zero-window report

	f.pipe.PushString("#P50")
	f.m.step(time.Now())

	assert.Equal(t, 50, f.m.Settings().Period)
	assert.Contains(t, f.pipe.Output(), "@period: 50 ms\n")

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 50, rec.Period, "mutation is durable before the next report")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.mx.Saves))
}

func TestStep_DropsMalformedBatch(t *testing.T) {
	f := newMeterFixture(t, func(st *settings.Settings) { st.Period = 2000 })
	f.m.step(time.Now())
	f.pipe.ResetOutput()

	f.pipe.PushString("XP50")
	f.m.step(time.Now())

	assert.Equal(t, 2000, f.m.Settings().Period)
	assert.Empty(t, f.pipe.Output())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.mx.Dropped))
}

func TestStep_MutationRebuildsConverter(t *testing.T) {
	f := newMeterFixture(t, func(st *settings.Settings) { st.Period = 0 })

	f.m.step(time.Now())
	f.pipe.PushString("#C3000")
	f.m.step(time.Now()) // reports with the old offset, then dispatches
	f.m.step(time.Now()) // first report with the new offset

	reps := statusLines(t, f.pipe.Output())
	require.Len(t, reps, 3)
	assert.InDelta(t, 0.792, reps[0].Current, 0.001)
	assert.InDelta(t, 0.792, reps[1].Current, 0.001)
	assert.Zero(t, reps[2].Current, "an offset above the sensor level clamps to zero")
	assert.Zero(t, reps[2].Power)
}

func TestStep_RelayStateReported(t *testing.T) {
	f := newMeterFixture(t, func(st *settings.Settings) { st.Period = 0 })

	f.m.step(time.Now())
	f.pipe.PushString("#S1")
	f.m.step(time.Now())
	f.m.step(time.Now())

	reps := statusLines(t, f.pipe.Output())
	require.Len(t, reps, 3)
	assert.False(t, reps[0].RelayOn)
	assert.False(t, reps[1].RelayOn, "the report precedes the dispatch within a step")
	assert.True(t, reps[2].RelayOn)

	// The relay cut the simulated load, so the powered-off device reads
	// zero current.
	assert.Zero(t, reps[2].Current)
}

func TestHistory(t *testing.T) {
	f := newMeterFixture(t, func(st *settings.Settings) { st.Period = 0 })

	for range 20 {
		f.m.step(time.Now())
	}

	all := f.m.History(0)
	assert.Len(t, all, 20)

	few := f.m.History(5)
	assert.Len(t, few, 5)
	assert.Equal(t, all[0].Time, few[0].Time, "decimation keeps the oldest point")

	assert.Empty(t, newMeterFixture(t, nil).m.History(0))
}

func TestLastReading_Empty(t *testing.T) {
	f := newMeterFixture(t, nil)

	_, ok := f.m.LastReading()
	assert.False(t, ok)
}

func TestUpdateSettings(t *testing.T) {
	f := newMeterFixture(t, nil)

	st := f.m.Settings()
	st.Period = 100
	st.Magic = "EnerginoY"
	require.NoError(t, f.m.UpdateSettings(st))

	assert.Equal(t, 100, f.m.Settings().Period)
	assert.Equal(t, "EnerginoY", f.m.Settings().Magic)

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, st, rec)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.mx.Saves))
}

func TestUpdateSettings_Invalid(t *testing.T) {
	f := newMeterFixture(t, nil)
	saves := f.store.Saves()

	st := f.m.Settings()
	st.R2 = 0
	err := f.m.UpdateSettings(st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "r2")

	st = f.m.Settings()
	st.VoltagePin = 99
	err = f.m.UpdateSettings(st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voltage pin 99")

	assert.Equal(t, settings.Default(), f.m.Settings())
	assert.Equal(t, saves, f.store.Saves(), "failed updates persist nothing")
}

func TestRun_EndToEnd(t *testing.T) {
	f := newMeterFixture(t, func(st *settings.Settings) { st.Period = 0 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := f.m.LastReading()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	f.pipe.PushString("#S1")
	relay, err := f.sim.DigitalOutputPin(2)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return relay.LastState()
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("meter did not stop on cancel")
	}
}

type captureFeed struct {
	mu   sync.Mutex
	reps []telemetry.Report
}

func (f *captureFeed) Publish(_ context.Context, r telemetry.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reps = append(f.reps, r)
	return nil
}

func (f *captureFeed) Close() error { return nil }

func (f *captureFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reps)
}

func TestRun_PublishesToFeed(t *testing.T) {
	store := settings.NewMemStore()
	st := settings.Default()
	st.Period = 0
	require.NoError(t, store.Save(st))

	sim := hw.NewSim(hw.DefaultConfig(), zerolog.Nop())
	mx := telemetry.NewMetrics(prometheus.NewRegistry())
	feed := &captureFeed{}
	m, err := New(sim, store, console.NewPipe(), feed, mx, Options{}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		return feed.count() > 0
	}, 2*time.Second, 5*time.Millisecond)

	feed.mu.Lock()
	rep := feed.reps[0]
	feed.mu.Unlock()
	assert.Equal(t, "Energino", rep.Magic)
	assert.Greater(t, rep.Power, 0.0)
}
