package fixture

import (
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisc(t *testing.T) {
	t.Parallel()

	bg := color.NRGBA{R: 200, G: 200, B: 200, A: 255}
	fg := color.NRGBA{R: 10, G: 20, B: 30, A: 255}
	img := Disc(64, 32, bg, fg, 10)

	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
	assert.Equal(t, bg, img.NRGBAAt(0, 0))
	assert.Equal(t, fg, img.NRGBAAt(32, 16))
}

func TestToNRGBACopies(t *testing.T) {
	t.Parallel()

	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(1, 1, lightGray)

	dst := toNRGBA(src)
	require.Equal(t, src.Pix, dst.Pix)

	src.SetNRGBA(1, 1, midGray)
	assert.Equal(t, lightGray, dst.NRGBAAt(1, 1))
}

func TestCheckerboard(t *testing.T) {
	t.Parallel()

	img := Checkerboard(32, 32, 8, lightGray, midGray)
	assert.Equal(t, lightGray, img.NRGBAAt(1, 1))
	assert.Equal(t, midGray, img.NRGBAAt(9, 1))
	assert.Equal(t, midGray, img.NRGBAAt(1, 9))
	assert.Equal(t, lightGray, img.NRGBAAt(9, 9))
}

func TestRingHoleKeepsBackground(t *testing.T) {
	t.Parallel()

	img := Ring(100, 100, lightGray, subject, 40, 15)
	assert.Equal(t, lightGray, img.NRGBAAt(50, 50))
	assert.Equal(t, subject, img.NRGBAAt(50, 20))
	assert.Equal(t, lightGray, img.NRGBAAt(2, 2))
}

func TestWriteSamples(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	paths, err := WriteSamples(dir)
	require.NoError(t, err)
	assert.Len(t, paths, len(Samples()))

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}
