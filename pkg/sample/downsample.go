package sample

// Downsample decimates readings to at most maxPoints for transfer or
// display. Destination-based: reuses dst when it has sufficient capacity,
// otherwise allocates. When len(readings) <= maxPoints all readings are
// copied through unchanged.
func Downsample(dst []Reading, readings []Reading, maxPoints int) []Reading {
	if maxPoints <= 0 {
		return dst[:0]
	}
	if len(readings) <= maxPoints {
		if cap(dst) >= len(readings) {
			dst = dst[:len(readings)]
			copy(dst, readings)
			return dst
		}
		result := make([]Reading, len(readings))
		copy(result, readings)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Reading, 0, maxPoints)
	}

	// Simple decimation: pick evenly spaced points across the window.
	step := float64(len(readings)) / float64(maxPoints)
	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(readings) {
			dst = append(dst, readings[idx])
		}
	}

	return dst
}
