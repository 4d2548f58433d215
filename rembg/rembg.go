package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/chaos-io/unbg/colorkey"
)

// SeedMode selects which matching pixels are removed.
type SeedMode string

const (
	// SeedBorder removes matching pixels connected to the image border.
	SeedBorder SeedMode = "border"
	// SeedSweep removes every matching pixel, connected or not.
	SeedSweep SeedMode = "sweep"
)

var (
	ErrEmptyImage      = errors.New("rembg: empty image")
	ErrUnknownSeedMode = errors.New("rembg: unknown seed mode")
)

// ParseSeedMode accepts "border", "sweep" and "" (border).
func ParseSeedMode(s string) (SeedMode, error) {
	switch SeedMode(s) {
	case "", SeedBorder:
		return SeedBorder, nil
	case SeedSweep:
		return SeedSweep, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownSeedMode, s)
}

// Stats describes one Remove call.
type Stats struct {
	Width              int             `json:"width"`
	Height             int             `json:"height"`
	Removed            int             `json:"removed"`
	AlreadyTransparent int             `json:"already_transparent"`
	Subject            image.Rectangle `json:"subject"`
}

// Remover makes the background of an image transparent.
type Remover interface {
	Remove(ctx context.Context, img image.Image) (*image.NRGBA, Stats, error)
}

// ColorKeyRemover removes background pixels picked by a colour matcher.
type ColorKeyRemover struct {
	Matcher colorkey.Matcher
	Mode    SeedMode
}

func New(m colorkey.Matcher, mode SeedMode) *ColorKeyRemover {
	return &ColorKeyRemover{Matcher: m, Mode: mode}
}

// Remove clears the alpha of the background pixels. An *image.NRGBA input is
// modified in place and returned; any other image is copied first. RGB
// channels are never touched.
func (r *ColorKeyRemover) Remove(ctx context.Context, img image.Image) (*image.NRGBA, Stats, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, Stats{}, ErrEmptyImage
	}
	if r.Matcher == nil {
		return nil, Stats{}, errors.New("rembg: no matcher")
	}
	if err := ctx.Err(); err != nil {
		return nil, Stats{}, err
	}

	dst := toNRGBA(img)
	stats := Stats{
		Width:              dst.Bounds().Dx(),
		Height:             dst.Bounds().Dy(),
		AlreadyTransparent: countTransparent(dst),
	}

	var removal []int
	switch r.Mode {
	case "", SeedBorder:
		removal = borderRegion(dst, r.Matcher)
	case SeedSweep:
		removal = sweepRegion(dst, r.Matcher)
	default:
		return nil, Stats{}, fmt.Errorf("%w %q", ErrUnknownSeedMode, r.Mode)
	}

	// A failing matcher leaves the image as it was.
	if err := colorkey.Failed(r.Matcher); err != nil {
		return nil, Stats{}, err
	}
	stats.Removed = clearAlpha(dst, removal)

	if bbox, err := alphaBBox(dst, 0); err == nil {
		stats.Subject = bbox
	}
	return dst, stats, nil
}
