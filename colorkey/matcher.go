// Package colorkey decides which colours count as background.
//
// A Matcher only ever sees the RGB channels of an opaque pixel. Transparency is
// handled by the caller in package rembg.
package colorkey

// Matcher reports whether a colour belongs to the background.
type Matcher interface {
	Match(r, g, b uint8) bool
}

// MatcherFunc adapts a plain function to the Matcher interface.
type MatcherFunc func(r, g, b uint8) bool

func (f MatcherFunc) Match(r, g, b uint8) bool {
	return f(r, g, b)
}

type anyOf []Matcher

// Any matches a colour accepted by at least one of ms.
func Any(ms ...Matcher) Matcher {
	return anyOf(ms)
}

func (a anyOf) Match(r, g, b uint8) bool {
	for _, m := range a {
		if m.Match(r, g, b) {
			return true
		}
	}
	return false
}

// cached memoizes an expensive matcher per RGB triple. Not safe for
// concurrent use.
type cached struct {
	m    Matcher
	seen map[uint32]bool
}

// Cached wraps m so every distinct colour is evaluated once.
func Cached(m Matcher) Matcher {
	if _, ok := m.(*cached); ok {
		return m
	}
	return &cached{m: m, seen: make(map[uint32]bool)}
}

func (c *cached) Match(r, g, b uint8) bool {
	key := uint32(r)<<16 | uint32(g)<<8 | uint32(b)
	if v, ok := c.seen[key]; ok {
		return v
	}
	v := c.m.Match(r, g, b)
	c.seen[key] = v
	return v
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// grayish: every pairwise channel difference is at most tol.
func grayish(r, g, b, tol uint8) bool {
	return absDiff(r, g) <= tol && absDiff(g, b) <= tol && absDiff(r, b) <= tol
}

// Err surfaces a failure of the wrapped matcher, if it tracks one.
func (c *cached) Err() error {
	if e, ok := c.m.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

// Failed returns the error recorded by a matcher that can fail while
// matching, such as a Script.
func Failed(m Matcher) error {
	if e, ok := m.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}
