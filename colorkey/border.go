package colorkey

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"gonum.org/v1/gonum/stat"
)

const (
	// Border pixels further than this from the dominant colour are treated as
	// subject and left out of the spread estimate.
	borderSampleDistance = 0.2
	borderSpreadSigma    = 3.0
	checkerBandPadding   = 4
)

var ErrNoBorder = errors.New("colorkey: image border has no usable pixels")

// borderPixels collects the opaque pixels of the outer ring of img.
func borderPixels(img image.Image) []color.NRGBA {
	b := img.Bounds()
	if b.Empty() {
		return nil
	}

	var out []color.NRGBA
	add := func(x, y int) {
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		if c.A == 0 {
			return
		}
		out = append(out, c)
	}

	for x := b.Min.X; x < b.Max.X; x++ {
		add(x, b.Min.Y)
		if b.Dy() > 1 {
			add(x, b.Max.Y-1)
		}
	}
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		add(b.Min.X, y)
		if b.Dx() > 1 {
			add(b.Max.X-1, y)
		}
	}
	return out
}

// borderTile packs pixels into a square image, repeating them to fill the
// last row, so the dominant colour search sees a sensibly shaped input.
func borderTile(px []color.NRGBA) *image.NRGBA {
	side := int(math.Ceil(math.Sqrt(float64(len(px)))))
	tile := image.NewNRGBA(image.Rect(0, 0, side, side))
	for i := 0; i < side*side; i++ {
		tile.SetNRGBA(i%side, i/side, px[i%len(px)])
	}
	return tile
}

func meanColor(px []color.NRGBA) colorful.Color {
	var r, g, b float64
	for _, c := range px {
		r += float64(c.R)
		g += float64(c.G)
		b += float64(c.B)
	}
	n := float64(len(px)) * 255
	return colorful.Color{R: r / n, G: g / n, B: b / n}
}

// FromBorder estimates the background from the image border: the reference is
// the dominant border colour and the distance covers the spread of the border
// pixels close to it, never less than minDistance.
func FromBorder(img image.Image, minDistance float64) (Lab, error) {
	px := borderPixels(img)
	if len(px) == 0 {
		return Lab{}, ErrNoBorder
	}

	ref := meanColor(px)
	candidates := dominantcolor.FindWeight(borderTile(px), 3)
	if len(candidates) > 0 {
		best := slices.MaxFunc(candidates, func(a, b dominantcolor.Color) int {
			switch {
			case a.Weight < b.Weight:
				return -1
			case a.Weight > b.Weight:
				return 1
			}
			return 0
		})
		ref, _ = colorful.MakeColor(best.RGBA)
	}

	distances := make([]float64, 0, len(px))
	for _, c := range px {
		col := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
		if d := col.DistanceLab(ref); d <= borderSampleDistance {
			distances = append(distances, d)
		}
	}

	maxDistance := minDistance
	if len(distances) > 0 {
		mean, std := stat.MeanStdDev(distances, nil)
		if math.IsNaN(std) {
			std = 0
		}
		maxDistance = math.Max(minDistance, math.Min(borderSampleDistance, mean+borderSpreadSigma*std))
	}

	return Lab{Reference: ref.Clamped(), MaxDistance: maxDistance}, nil
}

// CheckerFromBorder splits the gray border pixels into the two checkerboard
// tones with k-means and returns a Checker with one band per tone.
func CheckerFromBorder(img image.Image, tolerance uint8) (Checker, error) {
	var obs clusters.Observations
	for _, c := range borderPixels(img) {
		if grayish(c.R, c.G, c.B, tolerance) {
			obs = append(obs, clusters.Coordinates{float64(c.R)})
		}
	}
	if len(obs) == 0 {
		return Checker{}, ErrNoBorder
	}

	groups := []clusters.Observations{obs}
	if len(obs) >= 2 {
		if cc, err := kmeans.New().Partition(obs, 2); err == nil {
			groups = groups[:0]
			for _, c := range cc {
				if len(c.Observations) > 0 {
					groups = append(groups, c.Observations)
				}
			}
		}
	}
	if len(groups) == 0 {
		return Checker{}, fmt.Errorf("colorkey: no checker tones among %d border pixels", len(obs))
	}

	bands := make([]Range, 0, len(groups))
	for _, g := range groups {
		lo, hi := 255.0, 0.0
		for _, o := range g {
			v := o.Coordinates()[0]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		bands = append(bands, Range{
			Min: uint8(math.Max(0, lo-checkerBandPadding)),
			Max: uint8(math.Min(255, hi+checkerBandPadding)),
		})
	}
	slices.SortFunc(bands, func(a, b Range) int { return int(b.Min) - int(a.Min) })

	return Checker{Tolerance: tolerance, Bands: bands}, nil
}
