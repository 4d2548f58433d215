package colorkey

import (
	"github.com/lucasb-eyer/go-colorful"
)

// Lab matches colours within MaxDistance of Reference in CIE L*a*b* space.
// Distances use go-colorful's scale, where black to white is about 1.0.
type Lab struct {
	Reference   colorful.Color
	MaxDistance float64
}

func (m Lab) Match(r, g, b uint8) bool {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	return c.DistanceLab(m.Reference) <= m.MaxDistance
}
