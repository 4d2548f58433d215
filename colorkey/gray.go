package colorkey

// Range is an inclusive channel value range.
type Range struct {
	Min uint8
	Max uint8
}

func (r Range) contains(v uint8) bool {
	return v >= r.Min && v <= r.Max
}

// Gray matches approximately gray colours whose channels all fall inside
// Brightness.
type Gray struct {
	// Tolerance is the largest allowed difference between any two channels.
	Tolerance  uint8
	Brightness Range
}

func (m Gray) Match(r, g, b uint8) bool {
	return grayish(r, g, b, m.Tolerance) &&
		m.Brightness.contains(r) &&
		m.Brightness.contains(g) &&
		m.Brightness.contains(b)
}

// Light matches white and light gray: every channel at or above Threshold
// and the channels no further apart than Tolerance.
type Light struct {
	Threshold uint8
	Tolerance uint8
}

func (m Light) Match(r, g, b uint8) bool {
	if r < m.Threshold || g < m.Threshold || b < m.Threshold {
		return false
	}
	return grayish(r, g, b, m.Tolerance)
}

// DefaultCheckerBands are the light and dark squares of the usual
// "transparent" checkerboard baked into exported icons.
var DefaultCheckerBands = []Range{
	{Min: 195, Max: 215},
	{Min: 145, Max: 165},
}

// Checker matches the gray tones of a checkerboard pattern. Only the red
// channel is compared against the bands; the gray check keeps the others close.
type Checker struct {
	Tolerance uint8
	Bands     []Range
}

func (m Checker) Match(r, g, b uint8) bool {
	if !grayish(r, g, b, m.Tolerance) {
		return false
	}
	for _, band := range m.Bands {
		if band.contains(r) {
			return true
		}
	}
	return false
}
