// Package fixture draws small synthetic images with known backgrounds, for
// tests and for trying out matcher settings.
package fixture

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

// toNRGBA always copies, unlike rembg's, since the gg context keeps drawing into its image.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// Disc is a w×h canvas of bg with a filled circle of fg in the middle.
func Disc(w, h int, bg, fg color.Color, radius float64) *image.NRGBA {
	dc := gg.NewContext(w, h)
	dc.SetColor(bg)
	dc.Clear()
	dc.SetColor(fg)
	dc.DrawCircle(float64(w)/2, float64(h)/2, radius)
	dc.Fill()
	return toNRGBA(dc.Image())
}

// Checkerboard is a w×h canvas of alternating light and dark cells of the
// given size, the usual stand-in for transparency in image editors.
func Checkerboard(w, h, cell int, light, dark color.Color) *image.NRGBA {
	dc := gg.NewContext(w, h)
	dc.SetColor(light)
	dc.Clear()
	dc.SetColor(dark)
	for y := 0; y < h; y += cell {
		for x := 0; x < w; x += cell {
			if (x/cell+y/cell)%2 == 1 {
				dc.DrawRectangle(float64(x), float64(y), float64(cell), float64(cell))
			}
		}
	}
	dc.Fill()
	return toNRGBA(dc.Image())
}

// CheckeredDisc draws a disc of fg over a checkerboard.
func CheckeredDisc(w, h, cell int, light, dark, fg color.Color, radius float64) *image.NRGBA {
	dc := gg.NewContextForImage(Checkerboard(w, h, cell, light, dark))
	dc.SetColor(fg)
	dc.DrawCircle(float64(w)/2, float64(h)/2, radius)
	dc.Fill()
	return toNRGBA(dc.Image())
}

// Ring draws a ring of fg whose hole shows bg, so the hole is background
// colour that is not connected to the border.
func Ring(w, h int, bg, fg color.Color, outer, inner float64) *image.NRGBA {
	dc := gg.NewContext(w, h)
	dc.SetColor(bg)
	dc.Clear()
	dc.SetColor(fg)
	dc.DrawCircle(float64(w)/2, float64(h)/2, outer)
	dc.Fill()
	dc.SetColor(bg)
	dc.DrawCircle(float64(w)/2, float64(h)/2, inner)
	dc.Fill()
	return toNRGBA(dc.Image())
}

var (
	lightGray = color.NRGBA{R: 204, G: 204, B: 204, A: 255}
	midGray   = color.NRGBA{R: 153, G: 153, B: 153, A: 255}
	white     = color.NRGBA{R: 250, G: 250, B: 250, A: 255}
	subject   = color.NRGBA{R: 30, G: 90, B: 200, A: 255}
)

// Samples returns a named set of sample images.
func Samples() map[string]*image.NRGBA {
	return map[string]*image.NRGBA{
		"disc_gray.png":    Disc(128, 128, lightGray, subject, 40),
		"disc_white.png":   Disc(128, 128, white, subject, 40),
		"disc_checker.png": CheckeredDisc(128, 128, 8, lightGray, midGray, subject, 40),
		"ring_gray.png":    Ring(128, 128, lightGray, subject, 48, 20),
	}
}

// WriteSamples writes Samples into dir as PNG files and returns their paths.
func WriteSamples(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fixture: create %s: %w", dir, err)
	}

	var paths []string
	for name, img := range Samples() {
		p := filepath.Join(dir, name)
		if err := writePNG(p, img); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fixture: create %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("fixture: encode %s: %w", path, err)
	}
	return nil
}
