package rembg

import (
	"image"

	"github.com/chaos-io/unbg/colorkey"
)

// Sweep clears the alpha of every opaque pixel accepted by m wherever it is.
// It also erases subject pixels that happen to match; prefer FloodFill.
func Sweep(img *image.NRGBA, m colorkey.Matcher) int {
	return clearAlpha(img, sweepRegion(img, m))
}

func sweepRegion(img *image.NRGBA, m colorkey.Matcher) []int {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	var removal []int
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			i := row + x*4
			if img.Pix[i+3] == 0 {
				continue
			}
			if m.Match(img.Pix[i], img.Pix[i+1], img.Pix[i+2]) {
				removal = append(removal, i)
			}
		}
	}
	return removal
}
