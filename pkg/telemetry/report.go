package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// Field precision of the status line, in digits after the decimal point.
const (
	VoltageDigits = 3
	CurrentDigits = 3
	PowerDigits   = 2
)

// Report is one telemetry window, in wire order.
type Report struct {
	Magic        string
	Revision     int
	Voltage      float64 // V
	Current      float64 // A
	Power        float64 // W
	RelayOn      bool
	Period       int // ms
	Samples      int
	VoltageError int // mV
	CurrentError int // mA
}

// Format renders the machine-parseable status line, newline terminated:
//
//	#magic,revision,voltage,current,power,relay,period,samples,verror,ierror
//
// The output depends only on the report fields, so equal reports format to
// identical bytes.
func Format(r Report) string {
	relay := 0
	if r.RelayOn {
		relay = 1
	}
	return fmt.Sprintf("#%s,%d,%.*f,%.*f,%.*f,%d,%d,%d,%d,%d\n",
		r.Magic, r.Revision,
		VoltageDigits, r.Voltage,
		CurrentDigits, r.Current,
		PowerDigits, r.Power,
		relay, r.Period, r.Samples, r.VoltageError, r.CurrentError)
}

// Parse is the inverse of Format, for collectors reading status lines off
// the wire. A trailing newline is accepted and ignored.
func Parse(line string) (Report, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "#") {
		return Report{}, fmt.Errorf("invalid status line: missing # prefix")
	}

	parts := strings.Split(line[1:], ",")
	if len(parts) != 10 {
		return Report{}, fmt.Errorf("invalid status line: expected 10 fields, got %d", len(parts))
	}

	revision, err := strconv.Atoi(parts[1])
	if err != nil {
		return Report{}, fmt.Errorf("invalid revision: %w", err)
	}

	voltage, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Report{}, fmt.Errorf("invalid voltage: %w", err)
	}

	current, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return Report{}, fmt.Errorf("invalid current: %w", err)
	}

	power, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return Report{}, fmt.Errorf("invalid power: %w", err)
	}

	relay, err := strconv.Atoi(parts[5])
	if err != nil || (relay != 0 && relay != 1) {
		return Report{}, fmt.Errorf("invalid relay state %q", parts[5])
	}

	period, err := strconv.Atoi(parts[6])
	if err != nil {
		return Report{}, fmt.Errorf("invalid period: %w", err)
	}

	samples, err := strconv.Atoi(parts[7])
	if err != nil {
		return Report{}, fmt.Errorf("invalid sample count: %w", err)
	}

	vErr, err := strconv.Atoi(parts[8])
	if err != nil {
		return Report{}, fmt.Errorf("invalid voltage error: %w", err)
	}

	iErr, err := strconv.Atoi(parts[9])
	if err != nil {
		return Report{}, fmt.Errorf("invalid current error: %w", err)
	}

	return Report{
		Magic:        parts[0],
		Revision:     revision,
		Voltage:      voltage,
		Current:      current,
		Power:        power,
		RelayOn:      relay == 1,
		Period:       period,
		Samples:      samples,
		VoltageError: vErr,
		CurrentError: iErr,
	}, nil
}
