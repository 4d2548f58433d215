package rembg

import (
	"image"

	"github.com/chaos-io/unbg/colorkey"
)

// FloodFill clears the alpha of every pixel connected to the image border
// through pixels accepted by m, using 4-connectivity. It returns the number
// of pixels cleared.
func FloodFill(img *image.NRGBA, m colorkey.Matcher) int {
	return clearAlpha(img, borderRegion(img, m))
}

// borderRegion returns the Pix offsets of the opaque pixels reachable from
// the border through matching pixels. A transparent pixel is judged by its
// stored RGB like any other and is never reported.
func borderRegion(img *image.NRGBA, m colorkey.Matcher) []int {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	visited := make([]bool, w*h)
	var removal []int
	stack := make([]image.Point, 0, 64)

	fill := func(sx, sy int) {
		stack = append(stack[:0], image.Point{X: sx, Y: sy})
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if p.X < 0 || p.X >= w || p.Y < 0 || p.Y >= h {
				continue
			}
			idx := p.Y*w + p.X
			if visited[idx] {
				continue
			}
			visited[idx] = true

			i := p.Y*img.Stride + p.X*4
			if !m.Match(img.Pix[i], img.Pix[i+1], img.Pix[i+2]) {
				continue
			}
			if img.Pix[i+3] != 0 {
				removal = append(removal, i)
			}

			stack = append(stack,
				image.Point{X: p.X - 1, Y: p.Y},
				image.Point{X: p.X + 1, Y: p.Y},
				image.Point{X: p.X, Y: p.Y - 1},
				image.Point{X: p.X, Y: p.Y + 1},
			)
		}
	}

	for x := 0; x < w; x++ {
		fill(x, 0)
		fill(x, h-1)
	}
	for y := 0; y < h; y++ {
		fill(0, y)
		fill(w-1, y)
	}
	return removal
}

// clearAlpha zeroes the alpha byte at every Pix offset in removal.
func clearAlpha(img *image.NRGBA, removal []int) int {
	for _, i := range removal {
		img.Pix[i+3] = 0
	}
	return len(removal)
}
