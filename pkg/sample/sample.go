package sample

import (
	"time"

	"github.com/rriggio/energino/pkg/settings"
)

// DefaultARef is the analog reference in millivolts assumed when the agent
// configuration does not specify one. It matches a 5 V board.
const DefaultARef = 5000.0

// Res returns the converter resolution in mV per step for the given
// reference voltage in mV, over the 10-bit range.
func Res(aref float64) float64 {
	return aref / 1024.0
}

// Converter maps averaged raw readings to physical units using the board
// calibration. It is a value type built from the settings record; rebuild
// it after a calibration change.
type Converter struct {
	R1          int     // divider high side (kOhm)
	R2          int     // divider low side (kOhm)
	Offset      int     // zero-current offset (mV)
	Sensitivity int     // current sensor coefficient (mV/A)
	ARef        float64 // reference voltage (mV)
}

// NewConverter builds a Converter from the persisted calibration. An aref
// of zero or less selects DefaultARef.
func NewConverter(s settings.Settings, aref float64) Converter {
	if aref <= 0 {
		aref = DefaultARef
	}
	return Converter{
		R1:          s.R1,
		R2:          s.R2,
		Offset:      s.Offset,
		Sensitivity: s.Sensitivity,
		ARef:        aref,
	}
}

// Voltage converts an averaged raw reading to volts on the divider input.
// Negative results are measurement noise around zero and clamp to 0.
func (c Converter) Voltage(raw float64) float64 {
	vout := raw * Res(c.ARef)
	mv := vout * float64(c.R1+c.R2) / float64(c.R2)
	if mv > 0 {
		return mv / 1000.0
	}
	return 0
}

// Current converts an averaged raw reading to amps through the sensor.
// The zero-current offset is subtracted before scaling; negative results
// clamp to 0.
func (c Converter) Current(raw float64) float64 {
	vout := raw * Res(c.ARef)
	amps := (vout - float64(c.Offset)) / float64(c.Sensitivity)
	if amps > 0 {
		return amps
	}
	return 0
}

// Power is the product of the converted voltage and current readings.
func (c Converter) Power(voltageRaw, currentRaw float64) float64 {
	return c.Voltage(voltageRaw) * c.Current(currentRaw)
}

// VoltageError returns the worst-case quantization error of a voltage
// reading in mV, truncated to whole millivolts.
func (c Converter) VoltageError() int {
	return int(Res(c.ARef) * float64(c.R1+c.R2) / float64(c.R2))
}

// CurrentError returns the worst-case quantization error of a current
// reading in mA, truncated to whole milliamps.
func (c Converter) CurrentError() int {
	return int(Res(c.ARef) / float64(c.Sensitivity) * 1000.0)
}

// Reading is one converted measurement window.
type Reading struct {
	Time    time.Time `json:"time"`
	Voltage float64   `json:"voltage"` // V
	Current float64   `json:"current"` // A
	Power   float64   `json:"power"`   // W
	Samples int       `json:"samples"`
}
