package colorkey

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// Script matches colours with a JavaScript boolean expression over r, g and b,
// e.g. "r > 240 && Math.abs(r - b) < 10". The runtime is not goroutine safe,
// so build one Script per image.
type Script struct {
	src string
	vm  *goja.Runtime
	fn  goja.Callable
	err error
}

// NewScript compiles src and runs it once so reference and type errors show
// up here instead of halfway through an image.
func NewScript(src string) (*Script, error) {
	if src == "" {
		return nil, errors.New("colorkey: empty script")
	}

	vm := goja.New()
	v, err := vm.RunString("(function(r, g, b) { return (" + src + "); })")
	if err != nil {
		return nil, fmt.Errorf("colorkey: compile script: %w", err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("colorkey: script %q is not an expression", src)
	}

	s := &Script{src: src, vm: vm, fn: fn}
	if _, err := s.eval(0, 0, 0); err != nil {
		return nil, fmt.Errorf("colorkey: run script: %w", err)
	}
	return s, nil
}

func (s *Script) eval(r, g, b uint8) (bool, error) {
	v, err := s.fn(goja.Undefined(), s.vm.ToValue(r), s.vm.ToValue(g), s.vm.ToValue(b))
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

// Match reports false once the script has failed; Err returns the failure.
func (s *Script) Match(r, g, b uint8) bool {
	if s.err != nil {
		return false
	}
	ok, err := s.eval(r, g, b)
	if err != nil {
		s.err = fmt.Errorf("colorkey: script %q at (%d,%d,%d): %w", s.src, r, g, b, err)
		return false
	}
	return ok
}

func (s *Script) Err() error {
	return s.err
}
