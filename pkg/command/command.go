// Package command parses and dispatches the '#' framed operator protocol.
//
// A batch is whatever one console read returned. The first byte must be the
// frame marker, the second byte selects the command and everything after it
// is the payload, capped at PayloadMax bytes. A batch that does not start
// with the marker is discarded whole; resynchronization happens at the next
// read. Unknown commands are ignored so newer consoles can talk to older
// agents.
package command

import (
	"fmt"
	"io"
	"math"

	"github.com/reef-pi/hal"
	"github.com/rs/zerolog"

	"github.com/rriggio/energino/pkg/sample"
	"github.com/rriggio/energino/pkg/settings"
)

const (
	// Prefix marks the start of a command frame.
	Prefix = '#'

	// PayloadMax bounds the payload copied out of a batch.
	PayloadMax = 58

	// CalibrationReads is how many back to back raw reads the T command
	// averages into a new zero-current offset.
	CalibrationReads = 1000
)

// Hardware is the slice of the meter the command set drives directly: the
// current-sense input for offset calibration and the relay output for the
// switch command. The meter re-resolves pins after a settings change, so
// commands fetch them per dispatch instead of caching them.
type Hardware interface {
	CurrentPin() hal.AnalogInputPin
	RelayPin() hal.DigitalOutputPin
}

// Result describes what one input batch did.
type Result struct {
	Cmd     byte // command byte, zero when the batch was empty or dropped
	Mutated bool // settings changed in memory and a save was attempted
	Dropped bool // batch discarded without dispatch
}

// Processor owns the dispatch table. It mutates the settings record in
// place and persists it after every successful mutation, so a change is
// durable before the next telemetry report can use it. The caller
// serializes Process with every other access to the record.
type Processor struct {
	st    *settings.Settings
	store settings.Store
	hw    Hardware
	out   io.Writer
	aref  float64
	log   zerolog.Logger
}

// NewProcessor returns a dispatcher over the given settings record. Echo
// lines and settings dumps are written to out. An aref of zero or less
// selects sample.DefaultARef.
func NewProcessor(st *settings.Settings, store settings.Store, hw Hardware, out io.Writer, aref float64, log zerolog.Logger) *Processor {
	if aref <= 0 {
		aref = sample.DefaultARef
	}
	return &Processor{
		st:    st,
		store: store,
		hw:    hw,
		out:   out,
		aref:  aref,
		log:   log.With().Str("component", "command").Logger(),
	}
}

// Process runs one batch through the dispatch table. An empty batch is a
// no-op. A batch without a leading frame marker, or with nothing after it,
// is dropped whole.
func (p *Processor) Process(batch []byte) Result {
	if len(batch) == 0 {
		return Result{}
	}
	if batch[0] != Prefix || len(batch) < 2 {
		p.log.Debug().Int("len", len(batch)).Msg("dropping malformed batch")
		return Result{Dropped: true}
	}

	cmd := batch[1]
	payload := batch[2:]
	if len(payload) > PayloadMax {
		payload = payload[:PayloadMax]
	}

	res := Result{Cmd: cmd}
	switch cmd {
	case 'R':
		// Acknowledge first, then restore defaults and drop the relay.
		p.echof("@reset\n")
		*p.st = settings.Default()
		if err := p.hw.RelayPin().Write(false); err != nil {
			p.log.Error().Err(err).Msg("relay reset failed")
		}
		p.persist()
		res.Mutated = true
	case 'Z':
		if err := p.st.Dump(p.out); err != nil {
			p.log.Warn().Err(err).Msg("settings dump failed")
		}
	case 'T':
		offset, err := p.calibrate()
		if err != nil {
			p.log.Error().Err(err).Msg("offset calibration failed")
			break
		}
		p.st.Offset = offset
		p.persist()
		res.Mutated = true
		p.echof("@offset: %d mV\n", p.st.Offset)
	case 'F':
		if v := atoi(payload); v >= 0 {
			p.st.FeedID = uint32(v)
			p.persist()
			res.Mutated = true
		}
	case 'K':
		p.st.SetAPIKey(string(payload))
		p.persist()
		res.Mutated = true
	case 'U':
		p.st.SetFeedsURL(string(payload))
		p.persist()
		res.Mutated = true
	case 'P':
		if v := atoi(payload); v >= 0 {
			p.st.Period = v
			p.persist()
			res.Mutated = true
			p.echof("@period: %d ms\n", p.st.Period)
		}
	case 'A':
		if v := atoi(payload); v >= 0 {
			p.st.R1 = v
			p.persist()
			res.Mutated = true
			p.echof("@r1: %d Kohm\n", p.st.R1)
		}
	case 'B':
		// r2 divides in the voltage conversion, so zero is rejected
		// along with negatives.
		if v := atoi(payload); v > 0 {
			p.st.R2 = v
			p.persist()
			res.Mutated = true
			p.echof("@r2: %d Kohm\n", p.st.R2)
		}
	case 'C':
		if v := atoi(payload); v >= 0 {
			p.st.Offset = v
			p.persist()
			res.Mutated = true
			p.echof("@offset: %d mV\n", p.st.Offset)
		}
	case 'D':
		// sensitivity divides in the current conversion, zero rejected.
		if v := atoi(payload); v > 0 {
			p.st.Sensitivity = v
			p.persist()
			res.Mutated = true
			p.echof("@sensitivity: %d mV/A\n", p.st.Sensitivity)
		}
	case 'S':
		v := atoi(payload)
		if v < 0 {
			break
		}
		on := v > 0
		if err := p.hw.RelayPin().Write(on); err != nil {
			p.log.Error().Err(err).Bool("on", on).Msg("relay write failed")
			break
		}
		if on {
			p.echof("@switch: high\n")
		} else {
			p.echof("@switch: low\n")
		}
	default:
		p.log.Debug().Str("cmd", string(cmd)).Msg("ignoring unknown command")
	}
	return res
}

// calibrate reads the current pin CalibrationReads times back to back and
// averages the raw counts into a millivolt offset. The stall is deliberate:
// calibration wants an unloaded, uninterrupted sampling window.
func (p *Processor) calibrate() (int, error) {
	pin := p.hw.CurrentPin()
	var sum float64
	for range CalibrationReads {
		v, err := pin.Value()
		if err != nil {
			return 0, fmt.Errorf("raw read on %s: %w", pin.Name(), err)
		}
		sum += v
	}
	return int(sum * sample.Res(p.aref) / CalibrationReads), nil
}

func (p *Processor) persist() {
	if err := p.store.Save(*p.st); err != nil {
		p.log.Error().Err(err).Msg("settings save failed")
	}
}

func (p *Processor) echof(format string, args ...any) {
	if _, err := fmt.Fprintf(p.out, format, args...); err != nil {
		p.log.Warn().Err(err).Msg("echo write failed")
	}
}

// atoi parses an integer prefix of the payload the way C atoi does: skip
// leading spaces and tabs, take an optional sign, then digits until the
// first non-digit. An empty or non-numeric payload parses as zero, and a
// trailing CR or LF from a terminal is simply ignored. Values beyond the
// 32-bit range clamp instead of wrapping.
func atoi(s []byte) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		d := int(s[i] - '0')
		if n > (math.MaxInt32-d)/10 {
			n = math.MaxInt32
			break
		}
		n = n*10 + d
	}
	if neg {
		return -n
	}
	return n
}
