package settings

import (
	"bufio"
	"fmt"
	"io"
)

// Field capacities of the provisioning record. The bounded strings mirror
// the EEPROM layout of the shield firmware, so a record written here can
// be mirrored onto a board without truncation surprises.
const (
	MagicLen    = 11
	APIKeyLen   = 48
	FeedsURLLen = 59
)

// Settings is the persistent device configuration record. Exactly one
// record exists per agent; it is loaded at startup, mutated by the command
// dispatcher and the operator API, and persisted after every successful
// mutation.
type Settings struct {
	Magic       string `json:"magic"`
	Revision    int    `json:"revision"`
	Period      int    `json:"period"`      // telemetry interval (ms)
	R1          int    `json:"r1"`          // divider high side (kOhm)
	R2          int    `json:"r2"`          // divider low side (kOhm)
	Offset      int    `json:"offset"`      // zero-current offset (mV)
	Sensitivity int    `json:"sensitivity"` // current sensor coefficient (mV/A)
	RelayPin    int    `json:"relaypin"`
	CurrentPin  int    `json:"currentpin"`
	VoltagePin  int    `json:"voltagepin"`
	APIKey      string `json:"apikey"`
	FeedID      uint32 `json:"feedid"`
	FeedsURL    string `json:"feedsurl"`
}

// Default returns the power-on settings record. The calibration values are
// the ones the shield ships with: a 100k/10k divider and an ACS712-05
// current sensor.
func Default() Settings {
	return Settings{
		Magic:       "Energino",
		Revision:    1,
		Period:      2000,
		R1:          100,
		R2:          10,
		Offset:      2500,
		Sensitivity: 185,
		RelayPin:    2,
		CurrentPin:  0,
		VoltagePin:  1,
	}
}

// Truncate cuts s to at most max bytes. Writes through the Set helpers can
// never leave an over-capacity value behind, whatever the payload length.
func Truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// SetMagic stores the identity tag truncated to its capacity.
func (s *Settings) SetMagic(v string) { s.Magic = Truncate(v, MagicLen) }

// SetAPIKey stores the upload credential truncated to its capacity.
func (s *Settings) SetAPIKey(v string) { s.APIKey = Truncate(v, APIKeyLen) }

// SetFeedsURL stores the upload endpoint truncated to its capacity.
func (s *Settings) SetFeedsURL(v string) { s.FeedsURL = Truncate(v, FeedsURLLen) }

// Validate checks the record against the field invariants: numeric fields
// are non-negative, divisor fields are strictly positive, bounded strings
// fit their capacity.
func (s *Settings) Validate() error {
	if len(s.Magic) > MagicLen {
		return fmt.Errorf("magic exceeds %d characters", MagicLen)
	}
	if len(s.APIKey) > APIKeyLen {
		return fmt.Errorf("apikey exceeds %d characters", APIKeyLen)
	}
	if len(s.FeedsURL) > FeedsURLLen {
		return fmt.Errorf("feedsurl exceeds %d characters", FeedsURLLen)
	}
	if s.Period < 0 {
		return fmt.Errorf("period must be non-negative, got %d", s.Period)
	}
	if s.R1 < 0 {
		return fmt.Errorf("r1 must be non-negative, got %d", s.R1)
	}
	if s.R2 <= 0 {
		return fmt.Errorf("r2 must be positive, got %d", s.R2)
	}
	if s.Offset < 0 {
		return fmt.Errorf("offset must be non-negative, got %d", s.Offset)
	}
	if s.Sensitivity <= 0 {
		return fmt.Errorf("sensitivity must be positive, got %d", s.Sensitivity)
	}
	if s.RelayPin < 0 || s.CurrentPin < 0 || s.VoltagePin < 0 {
		return fmt.Errorf("pin numbers must be non-negative")
	}
	return nil
}

// Dump writes the operator-readable listing to w, one "@name: value" line
// per tunable field in fixed order. The upload credentials are deliberately
// not listed. The listing is for humans; the machine-parseable surface is
// the telemetry status line.
func (s *Settings) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "@magic: %s\n", s.Magic)
	fmt.Fprintf(bw, "@revision: %d\n", s.Revision)
	fmt.Fprintf(bw, "@period: %d ms\n", s.Period)
	fmt.Fprintf(bw, "@r1: %d Kohm\n", s.R1)
	fmt.Fprintf(bw, "@r2: %d Kohm\n", s.R2)
	fmt.Fprintf(bw, "@offset: %d mV\n", s.Offset)
	fmt.Fprintf(bw, "@sensitivity: %d mV/A\n", s.Sensitivity)
	fmt.Fprintf(bw, "@relaypin: %d\n", s.RelayPin)
	fmt.Fprintf(bw, "@currentpin: %d\n", s.CurrentPin)
	fmt.Fprintf(bw, "@voltagepin: %d\n", s.VoltagePin)
	return bw.Flush()
}
