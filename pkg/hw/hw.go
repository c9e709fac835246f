// Package hw binds the meter to a board through the reef-pi hardware
// abstraction layer. The meter consumes capability interfaces only, so the
// same loop runs against the bundled simulator or any hal driver with
// analog inputs and digital outputs.
package hw

import (
	"fmt"

	"github.com/reef-pi/hal"

	"github.com/rriggio/energino/pkg/settings"
)

// Driver is the capability bundle a meter needs from its board.
type Driver interface {
	hal.AnalogInputDriver
	hal.DigitalOutputDriver
}

// Pins holds the three pins a settings record names.
type Pins struct {
	Voltage hal.AnalogInputPin
	Current hal.AnalogInputPin
	Relay   hal.DigitalOutputPin
}

// Resolve fetches the pins the settings record points at. It is called
// again after any settings mutation, so pin reassignments take effect on
// the next loop iteration.
func Resolve(drv Driver, st settings.Settings) (Pins, error) {
	voltage, err := drv.AnalogInputPin(st.VoltagePin)
	if err != nil {
		return Pins{}, fmt.Errorf("voltage pin %d: %w", st.VoltagePin, err)
	}
	current, err := drv.AnalogInputPin(st.CurrentPin)
	if err != nil {
		return Pins{}, fmt.Errorf("current pin %d: %w", st.CurrentPin, err)
	}
	relay, err := drv.DigitalOutputPin(st.RelayPin)
	if err != nil {
		return Pins{}, fmt.Errorf("relay pin %d: %w", st.RelayPin, err)
	}
	return Pins{Voltage: voltage, Current: current, Relay: relay}, nil
}
