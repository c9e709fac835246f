package sample

// Accumulator sums raw pin readings between telemetry reports. The zero
// value is an empty window.
type Accumulator struct {
	voltage float64
	current float64
	count   int
}

// Add records one raw reading pair.
func (a *Accumulator) Add(voltageRaw, currentRaw float64) {
	a.voltage += voltageRaw
	a.current += currentRaw
	a.count++
}

// Count returns the number of readings in the current window.
func (a *Accumulator) Count() int {
	return a.count
}

// Average returns the mean raw readings of the window and the number of
// readings they average. An empty window averages to zeros.
func (a *Accumulator) Average() (voltageRaw, currentRaw float64, n int) {
	if a.count == 0 {
		return 0, 0, 0
	}
	n = a.count
	return a.voltage / float64(n), a.current / float64(n), n
}

// Reset clears the window.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}
