package rembg

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/unbg/colorkey"
	"github.com/chaos-io/unbg/fixture"
)

var (
	bg   = color.NRGBA{R: 200, G: 200, B: 200, A: 255}
	dark = color.NRGBA{R: 10, G: 10, B: 10, A: 255}
	gray = colorkey.Gray{Tolerance: 14, Brightness: colorkey.Range{Min: 180, Max: 220}}
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func clone(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

func alphaAt(img *image.NRGBA, x, y int) uint8 {
	return img.NRGBAAt(x, y).A
}

// centerBlock is the 4×4 gray image with a dark 2×2 middle.
func centerBlock() *image.NRGBA {
	img := solid(4, 4, bg)
	for _, p := range []image.Point{{1, 1}, {2, 1}, {1, 2}, {2, 2}} {
		img.SetNRGBA(p.X, p.Y, dark)
	}
	return img
}

func TestRemoveCenterBlock(t *testing.T) {
	t.Parallel()

	img := centerBlock()
	out, stats, err := New(gray, SeedBorder).Remove(context.Background(), img)
	require.NoError(t, err)
	assert.Same(t, img, out, "NRGBA input is mutated in place")

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			inner := x >= 1 && x <= 2 && y >= 1 && y <= 2
			if inner {
				assert.Equal(t, uint8(255), alphaAt(out, x, y), "(%d,%d)", x, y)
			} else {
				assert.Equal(t, uint8(0), alphaAt(out, x, y), "(%d,%d)", x, y)
			}
		}
	}

	assert.Equal(t, 12, stats.Removed)
	assert.Equal(t, 0, stats.AlreadyTransparent)
	assert.Equal(t, 4, stats.Width)
	assert.Equal(t, 4, stats.Height)
	assert.Equal(t, image.Rect(1, 1, 3, 3), stats.Subject)
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	for name, img := range map[string]*image.NRGBA{
		"center block": centerBlock(),
		"disc":         fixture.Disc(48, 40, bg, dark, 12),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r := New(gray, SeedBorder)
			once, first, err := r.Remove(context.Background(), img)
			require.NoError(t, err)
			snapshot := clone(once)

			twice, second, err := r.Remove(context.Background(), once)
			require.NoError(t, err)
			assert.Equal(t, snapshot.Pix, twice.Pix)
			assert.Equal(t, 0, second.Removed)
			assert.Equal(t, first.Removed+first.AlreadyTransparent, second.AlreadyTransparent)
		})
	}
}

func TestFloodFillContainment(t *testing.T) {
	t.Parallel()

	// 7×7: gray border ring, dark wall ring, gray center pixel.
	img := solid(7, 7, bg)
	for y := 1; y <= 5; y++ {
		for x := 1; x <= 5; x++ {
			img.SetNRGBA(x, y, dark)
		}
	}
	img.SetNRGBA(3, 3, bg)
	// A dark island inside the outer gray ring region is kept too.
	island := solid(9, 9, bg)
	island.SetNRGBA(4, 4, dark)

	removed := FloodFill(img, gray)
	assert.Equal(t, 24, removed)
	assert.Equal(t, uint8(255), alphaAt(img, 3, 3), "gray pixel walled off from the border survives")
	assert.Equal(t, uint8(255), alphaAt(img, 1, 1))
	assert.Equal(t, uint8(0), alphaAt(img, 0, 0))

	removed = FloodFill(island, gray)
	assert.Equal(t, 80, removed)
	assert.Equal(t, uint8(255), alphaAt(island, 4, 4))
	assert.Equal(t, uint8(0), alphaAt(island, 3, 4), "ring around the island is background")
}

func TestSweepIgnoresConnectivity(t *testing.T) {
	t.Parallel()

	img := solid(7, 7, bg)
	for y := 1; y <= 5; y++ {
		for x := 1; x <= 5; x++ {
			img.SetNRGBA(x, y, dark)
		}
	}
	img.SetNRGBA(3, 3, bg)

	_, stats, err := New(gray, SeedSweep).Remove(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, 25, stats.Removed)
	assert.Equal(t, uint8(0), alphaAt(img, 3, 3))
}

func TestFloodFillDegenerateSizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		w, h    int
		fill    color.NRGBA
		removed int
	}{
		{name: "1x1 match", w: 1, h: 1, fill: bg, removed: 1},
		{name: "1x1 miss", w: 1, h: 1, fill: dark, removed: 0},
		{name: "1xN", w: 1, h: 9, fill: bg, removed: 9},
		{name: "Nx1", w: 11, h: 1, fill: bg, removed: 11},
		{name: "2x2", w: 2, h: 2, fill: bg, removed: 4},
		{name: "empty", w: 0, h: 0, fill: bg, removed: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			img := solid(tt.w, tt.h, tt.fill)
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.removed, FloodFill(img, gray))
			})
		})
	}

	// 1×N with a dark pixel in the middle: both ends are border pixels.
	strip := solid(1, 5, bg)
	strip.SetNRGBA(0, 2, dark)
	assert.Equal(t, 4, FloodFill(strip, gray))
}

func TestFloodFillOnSubImage(t *testing.T) {
	t.Parallel()

	parent := solid(8, 8, dark)
	sub := parent.SubImage(image.Rect(2, 2, 6, 6)).(*image.NRGBA)
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			sub.SetNRGBA(x, y, bg)
		}
	}

	assert.Equal(t, 16, FloodFill(sub, gray))
	assert.Equal(t, uint8(0), parent.NRGBAAt(2, 2).A)
	assert.Equal(t, uint8(255), parent.NRGBAAt(1, 1).A)
	assert.Equal(t, uint8(255), parent.NRGBAAt(6, 6).A)
}

func TestRemoveOnlyTouchesAlpha(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 6, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 6; x++ {
			v := uint8(185 + 3*x + y)
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v + 2, B: v - 1, A: 255})
		}
	}
	before := clone(img)

	_, stats, err := New(gray, SeedBorder).Remove(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, 30, stats.Removed)

	for i := 0; i < len(img.Pix); i += 4 {
		assert.Equal(t, before.Pix[i:i+3], img.Pix[i:i+3])
		assert.Equal(t, uint8(0), img.Pix[i+3])
	}
	assert.Equal(t, image.Rectangle{}, stats.Subject)
}

func TestTransparentPixelIsSkipped(t *testing.T) {
	t.Parallel()

	hole := color.NRGBA{R: 1, G: 2, B: 3, A: 0}
	img := solid(5, 5, bg)
	img.SetNRGBA(0, 2, hole)

	_, stats, err := New(gray, SeedBorder).Remove(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, 24, stats.Removed)
	assert.Equal(t, 1, stats.AlreadyTransparent)
	assert.Equal(t, hole, img.NRGBAAt(0, 2))
	assert.Equal(t, uint8(0), alphaAt(img, 1, 2))
}

func TestFillStopsAtTransparentNonMatchingPixels(t *testing.T) {
	t.Parallel()

	// Transparent black border around a gray ring and a dark centre. The
	// ring has no path to the border through matching colours.
	img := solid(5, 5, color.NRGBA{})
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			img.SetNRGBA(x, y, bg)
		}
	}
	img.SetNRGBA(2, 2, dark)
	before := clone(img)

	assert.Zero(t, FloodFill(img, gray))
	assert.Equal(t, before.Pix, img.Pix)
}

func TestFillCrossesTransparentMatchingPixels(t *testing.T) {
	t.Parallel()

	// Dark wall with a gap that is transparent but still stores gray RGB.
	img := solid(7, 7, bg)
	for y := 1; y <= 5; y++ {
		for x := 1; x <= 5; x++ {
			if x == 1 || y == 1 || x == 5 || y == 5 {
				img.SetNRGBA(x, y, dark)
			}
		}
	}
	gap := color.NRGBA{R: 200, G: 200, B: 200, A: 0}
	img.SetNRGBA(3, 1, gap)

	_, stats, err := New(gray, SeedBorder).Remove(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, 24+9, stats.Removed)
	assert.Equal(t, uint8(0), alphaAt(img, 3, 3))
	assert.Equal(t, uint8(255), alphaAt(img, 1, 1))
	assert.Equal(t, gap, img.NRGBAAt(3, 1))

	// The same gap with non-matching RGB closes the wall.
	img = solid(7, 7, bg)
	for y := 1; y <= 5; y++ {
		for x := 1; x <= 5; x++ {
			if x == 1 || y == 1 || x == 5 || y == 5 {
				img.SetNRGBA(x, y, dark)
			}
		}
	}
	img.SetNRGBA(3, 1, color.NRGBA{})
	FloodFill(img, gray)
	assert.Equal(t, uint8(255), alphaAt(img, 3, 3))
}

func TestRemoveCopiesOtherImageTypes(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 3, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	src.SetRGBA(1, 1, color.RGBA{R: 10, G: 10, B: 10, A: 255})

	out, stats, err := New(gray, SeedBorder).Remove(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Removed)
	assert.Equal(t, color.NRGBA{R: 200, G: 200, B: 200, A: 0}, out.NRGBAAt(0, 0))
	assert.Equal(t, uint8(255), src.RGBAAt(0, 0).A, "source left alone")
}

func TestRemoveErrors(t *testing.T) {
	t.Parallel()

	r := New(gray, SeedBorder)

	_, _, err := r.Remove(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, _, err = r.Remove(context.Background(), image.NewNRGBA(image.Rectangle{}))
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, _, err = New(gray, "diagonal").Remove(context.Background(), centerBlock())
	assert.ErrorIs(t, err, ErrUnknownSeedMode)

	_, _, err = New(nil, SeedBorder).Remove(context.Background(), centerBlock())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = r.Remove(ctx, centerBlock())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFailingMatcherLeavesImageAlone(t *testing.T) {
	t.Parallel()

	script, err := colorkey.NewScript("r > 100 ? nothing.here : false")
	require.NoError(t, err)

	img := centerBlock()
	before := clone(img)
	_, _, err = New(script, SeedBorder).Remove(context.Background(), img)
	assert.Error(t, err)
	assert.Equal(t, before.Pix, img.Pix)
}

func TestParseSeedMode(t *testing.T) {
	t.Parallel()

	m, err := ParseSeedMode("")
	require.NoError(t, err)
	assert.Equal(t, SeedBorder, m)

	m, err = ParseSeedMode("sweep")
	require.NoError(t, err)
	assert.Equal(t, SeedSweep, m)

	_, err = ParseSeedMode("everything")
	assert.ErrorIs(t, err, ErrUnknownSeedMode)
}

func TestResizeWithinMax(t *testing.T) {
	t.Parallel()

	img := solid(200, 100, bg)
	small := ResizeWithinMax(img, 50)
	assert.Equal(t, 50, small.Bounds().Dx())
	assert.Equal(t, 25, small.Bounds().Dy())

	assert.Same(t, img, ResizeWithinMax(img, 400))
	assert.Same(t, img, ResizeWithinMax(img, 0))
}
