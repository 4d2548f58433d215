package colorkey

import (
	"errors"
	"fmt"
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

// Matcher kinds understood by New.
const (
	KindGray        = "gray"
	KindLight       = "light"
	KindChecker     = "checker"
	KindLab         = "lab"
	KindScript      = "script"
	KindAuto        = "auto"
	KindAutoChecker = "auto-checker"
)

var ErrUnknownKind = errors.New("colorkey: unknown matcher kind")

// Band is the config form of Range.
type Band struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Spec describes a matcher in configuration.
type Spec struct {
	Kind string `yaml:"kind" json:"kind"`

	// gray, light, checker, auto-checker
	ColorTolerance int `yaml:"color_tolerance" json:"color_tolerance"`
	// gray
	BrightnessRange Band `yaml:"brightness_range" json:"brightness_range"`
	// light
	Threshold int `yaml:"threshold" json:"threshold"`
	// checker; empty means DefaultCheckerBands
	Bands []Band `yaml:"bands" json:"bands,omitempty"`
	// lab: hex colour such as "#f0f0f0"
	Reference string `yaml:"reference" json:"reference,omitempty"`
	// lab, and the lower bound for auto
	MaxDistance float64 `yaml:"max_distance" json:"max_distance"`
	// script
	Script string `yaml:"script" json:"script,omitempty"`
}

// DefaultSpec is the edge flood fill predicate of the checkerboard cleanup:
// gray within 14 per channel pair and every channel in [130, 230].
func DefaultSpec() Spec {
	return Spec{
		Kind:            KindGray,
		ColorTolerance:  14,
		BrightnessRange: Band{Min: 130, Max: 230},
		Threshold:       235,
		MaxDistance:     0.05,
	}
}

func checkByte(name string, v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("colorkey: %s %d out of range [0, 255]", name, v)
	}
	return nil
}

func (b Band) validate(name string) error {
	if err := checkByte(name+".min", b.Min); err != nil {
		return err
	}
	if err := checkByte(name+".max", b.Max); err != nil {
		return err
	}
	if b.Min > b.Max {
		return fmt.Errorf("colorkey: %s min %d above max %d", name, b.Min, b.Max)
	}
	return nil
}

func (b Band) toRange() Range {
	return Range{Min: uint8(b.Min), Max: uint8(b.Max)}
}

// Validate checks the fields used by s.Kind.
func (s Spec) Validate() error {
	if err := checkByte("color_tolerance", s.ColorTolerance); err != nil {
		return err
	}

	switch s.Kind {
	case "", KindGray:
		return s.BrightnessRange.validate("brightness_range")
	case KindLight:
		return checkByte("threshold", s.Threshold)
	case KindChecker:
		for i, b := range s.Bands {
			if err := b.validate(fmt.Sprintf("bands[%d]", i)); err != nil {
				return err
			}
		}
	case KindLab:
		if _, err := colorful.Hex(s.Reference); err != nil {
			return fmt.Errorf("colorkey: reference %q: %w", s.Reference, err)
		}
		if s.MaxDistance <= 0 {
			return fmt.Errorf("colorkey: max_distance must be positive, got %v", s.MaxDistance)
		}
	case KindScript:
		if s.Script == "" {
			return errors.New("colorkey: script kind needs a script")
		}
	case KindAuto:
		if s.MaxDistance < 0 {
			return fmt.Errorf("colorkey: max_distance must not be negative, got %v", s.MaxDistance)
		}
	case KindAutoChecker:
	default:
		return fmt.Errorf("%w %q", ErrUnknownKind, s.Kind)
	}
	return nil
}

// New builds the matcher described by s. img is only read by the auto kinds,
// which derive their colours from its border. The result may hold per-image
// state; build a fresh one for every image.
func New(s Spec, img image.Image) (Matcher, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	tol := uint8(s.ColorTolerance)

	switch s.Kind {
	case "", KindGray:
		return Gray{Tolerance: tol, Brightness: s.BrightnessRange.toRange()}, nil
	case KindLight:
		return Light{Threshold: uint8(s.Threshold), Tolerance: tol}, nil
	case KindChecker:
		bands := DefaultCheckerBands
		if len(s.Bands) > 0 {
			bands = make([]Range, len(s.Bands))
			for i, b := range s.Bands {
				bands[i] = b.toRange()
			}
		}
		return Checker{Tolerance: tol, Bands: bands}, nil
	case KindLab:
		ref, _ := colorful.Hex(s.Reference)
		return Cached(Lab{Reference: ref, MaxDistance: s.MaxDistance}), nil
	case KindScript:
		sc, err := NewScript(s.Script)
		if err != nil {
			return nil, err
		}
		return Cached(sc), nil
	case KindAuto:
		if img == nil {
			return nil, errors.New("colorkey: auto matcher needs an image")
		}
		lab, err := FromBorder(img, s.MaxDistance)
		if err != nil {
			return nil, err
		}
		return Cached(lab), nil
	case KindAutoChecker:
		if img == nil {
			return nil, errors.New("colorkey: auto-checker matcher needs an image")
		}
		return CheckerFromBorder(img, tol)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownKind, s.Kind)
}
