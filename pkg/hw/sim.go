package hw

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/reef-pi/hal"
	"github.com/rs/zerolog"

	"github.com/rriggio/energino/pkg/sample"
	"github.com/rriggio/energino/pkg/settings"
)

// Board geometry of the simulated shield, matching the Uno footprint the
// real hardware plugs into.
const (
	AnalogPins  = 6
	DigitalPins = 14

	adcMax = 1023
)

// Config describes the physics of the simulated board: the supply feeding
// the divider, the load behind the relay, and the parts actually fitted.
// The fitted values are independent of the settings record on purpose;
// misconfiguring the record skews the readings exactly as it would on a
// real shield.
type Config struct {
	SupplyVoltage float64 // volts across the divider input
	LoadCurrent   float64 // amps drawn by the monitored device when powered
	Noise         float64 // raw count ripple amplitude, 0 disables

	R1          int     // divider high side (kOhm)
	R2          int     // divider low side (kOhm)
	Offset      int     // sensor zero-current level (mV)
	Sensitivity int     // sensor coefficient (mV/A)
	ARef        float64 // ADC reference (mV)

	VoltagePin int // analog pin wired to the divider
	CurrentPin int // analog pin wired to the current sensor
	RelayPin   int // digital pin switching the load
}

// DefaultConfig returns a board with the stock shield parts, a 12 V supply
// and a 0.8 A load.
func DefaultConfig() Config {
	return Config{
		SupplyVoltage: 12.0,
		LoadCurrent:   0.8,
		R1:            100,
		R2:            10,
		Offset:        2500,
		Sensitivity:   185,
		ARef:          sample.DefaultARef,
		VoltagePin:    1,
		CurrentPin:    0,
		RelayPin:      2,
	}
}

// ConfigFromSettings returns the default board rewired to match a settings
// record, so a freshly provisioned agent converts the simulated readings
// back without systematic error.
func ConfigFromSettings(st settings.Settings) Config {
	cfg := DefaultConfig()
	cfg.R1 = st.R1
	cfg.R2 = st.R2
	cfg.Offset = st.Offset
	cfg.Sensitivity = st.Sensitivity
	cfg.VoltagePin = st.VoltagePin
	cfg.CurrentPin = st.CurrentPin
	cfg.RelayPin = st.RelayPin
	return cfg
}

var (
	_ Driver               = (*Sim)(nil)
	_ hal.AnalogInputPin   = (*simAnalogPin)(nil)
	_ hal.DigitalOutputPin = (*simDigitalPin)(nil)
)

// Sim is a software rendition of the shield. Analog reads synthesize raw
// ADC counts from the configured physics, the relay pin actually cuts the
// simulated load, and everything is safe for concurrent use.
type Sim struct {
	cfg Config
	log zerolog.Logger

	mu     sync.RWMutex
	start  time.Time
	supply float64
	load   float64

	analog  []*simAnalogPin
	digital []*simDigitalPin
}

// NewSim builds the simulated board. An ARef of zero or less selects
// sample.DefaultARef.
func NewSim(cfg Config, log zerolog.Logger) *Sim {
	if cfg.ARef <= 0 {
		cfg.ARef = sample.DefaultARef
	}
	s := &Sim{
		cfg:    cfg,
		log:    log.With().Str("component", "sim").Logger(),
		start:  time.Now(),
		supply: cfg.SupplyVoltage,
		load:   cfg.LoadCurrent,
	}
	s.analog = make([]*simAnalogPin, AnalogPins)
	for n := range s.analog {
		s.analog[n] = &simAnalogPin{sim: s, n: n}
	}
	s.digital = make([]*simDigitalPin, DigitalPins)
	for n := range s.digital {
		s.digital[n] = &simDigitalPin{sim: s, n: n}
	}
	return s
}

// SetSupply changes the simulated supply voltage.
func (s *Sim) SetSupply(volts float64) {
	s.mu.Lock()
	s.supply = volts
	s.mu.Unlock()
}

// SetLoad changes the current the simulated device draws when powered.
func (s *Sim) SetLoad(amps float64) {
	s.mu.Lock()
	s.load = amps
	s.mu.Unlock()
}

// Load reports the configured load current, powered or not.
func (s *Sim) Load() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load
}

func (s *Sim) Metadata() hal.Metadata {
	return hal.Metadata{
		Name:         "energino-sim",
		Description:  "synthetic power metering shield",
		Capabilities: []hal.Capability{hal.AnalogInput, hal.DigitalOutput},
	}
}

func (s *Sim) Pins(cap hal.Capability) ([]hal.Pin, error) {
	switch cap {
	case hal.AnalogInput:
		pins := make([]hal.Pin, len(s.analog))
		for i, p := range s.analog {
			pins[i] = p
		}
		return pins, nil
	case hal.DigitalOutput:
		pins := make([]hal.Pin, len(s.digital))
		for i, p := range s.digital {
			pins[i] = p
		}
		return pins, nil
	default:
		return nil, fmt.Errorf("capability %s not supported", cap.String())
	}
}

func (s *Sim) Close() error { return nil }

func (s *Sim) AnalogInputPins() []hal.AnalogInputPin {
	pins := make([]hal.AnalogInputPin, len(s.analog))
	for i, p := range s.analog {
		pins[i] = p
	}
	return pins
}

func (s *Sim) AnalogInputPin(n int) (hal.AnalogInputPin, error) {
	if n < 0 || n >= len(s.analog) {
		return nil, fmt.Errorf("analog pin %d out of range", n)
	}
	return s.analog[n], nil
}

func (s *Sim) DigitalOutputPins() []hal.DigitalOutputPin {
	pins := make([]hal.DigitalOutputPin, len(s.digital))
	for i, p := range s.digital {
		pins[i] = p
	}
	return pins
}

func (s *Sim) DigitalOutputPin(n int) (hal.DigitalOutputPin, error) {
	if n < 0 || n >= len(s.digital) {
		return nil, fmt.Errorf("digital pin %d out of range", n)
	}
	return s.digital[n], nil
}

// read synthesizes one raw count for analog pin n. Pins not wired to the
// divider or the sensor read zero, like a floating input tied down.
func (s *Sim) read(n int) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := sample.Res(s.cfg.ARef)
	var mv float64
	switch n {
	case s.cfg.VoltagePin:
		mv = s.supply * 1000 * float64(s.cfg.R2) / float64(s.cfg.R1+s.cfg.R2)
	case s.cfg.CurrentPin:
		load := s.load
		if s.loadCut() {
			load = 0
		}
		mv = load*float64(s.cfg.Sensitivity) + float64(s.cfg.Offset)
	default:
		return 0
	}
	return clampCounts(mv/res + s.ripple())
}

// loadCut reports whether the relay has disconnected the monitored device.
// Callers hold s.mu.
func (s *Sim) loadCut() bool {
	if s.cfg.RelayPin < 0 || s.cfg.RelayPin >= len(s.digital) {
		return false
	}
	return s.digital[s.cfg.RelayPin].state
}

// ripple adds a slow deterministic wobble to the raw counts. Callers hold
// s.mu.
func (s *Sim) ripple() float64 {
	if s.cfg.Noise <= 0 {
		return 0
	}
	t := float64(time.Since(s.start).Nanoseconds())
	return (math.Sin(t*0.001) + math.Cos(t*0.0013)) * s.cfg.Noise * 0.5
}

// clampCounts quantizes v to the 10-bit converter range.
func clampCounts(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > adcMax {
		return adcMax
	}
	return math.Trunc(v)
}

type simAnalogPin struct {
	sim *Sim
	n   int
}

func (p *simAnalogPin) Name() string                      { return fmt.Sprintf("A%d", p.n) }
func (p *simAnalogPin) Number() int                       { return p.n }
func (p *simAnalogPin) Close() error                      { return nil }
func (p *simAnalogPin) Value() (float64, error)           { return p.sim.read(p.n), nil }
func (p *simAnalogPin) Calibrate([]hal.Measurement) error { return nil }
func (p *simAnalogPin) Measure() (float64, error)         { return p.Value() }

type simDigitalPin struct {
	sim   *Sim
	n     int
	state bool // guarded by sim.mu
}

func (p *simDigitalPin) Name() string { return fmt.Sprintf("D%d", p.n) }
func (p *simDigitalPin) Number() int  { return p.n }
func (p *simDigitalPin) Close() error { return nil }

func (p *simDigitalPin) Write(state bool) error {
	p.sim.mu.Lock()
	p.state = state
	p.sim.mu.Unlock()
	p.sim.log.Debug().Str("pin", p.Name()).Bool("state", state).Msg("digital write")
	return nil
}

func (p *simDigitalPin) LastState() bool {
	p.sim.mu.RLock()
	defer p.sim.mu.RUnlock()
	return p.state
}
