package viewer

import (
	"math"
	"sync/atomic"
)

// Size is a width and height in pixels.
type Size struct {
	W, H int
}

// Scaler maps local display coordinates to host screen pixels. The host
// size is learned from each decoded screen image; until the first one
// arrives it is unknown and every point maps to (0, 0).
//
// SetHost runs on the dispatcher goroutine and Scale on the input path,
// so the host size is stored atomically.
type Scaler struct {
	// Display is the local display size. Zero means "same as the host",
	// i.e. identity scaling.
	Display Size

	host atomic.Uint64 // W<<32 | H; 0 until known
}

// SetHost records the host image size. Non-positive sizes are ignored.
func (s *Scaler) SetHost(w, h int) {
	if w <= 0 || h <= 0 || uint64(w) > math.MaxUint32 || uint64(h) > math.MaxUint32 {
		return
	}
	s.host.Store(uint64(w)<<32 | uint64(h))
}

// Host returns the last recorded host size.
func (s *Scaler) Host() (Size, bool) {
	v := s.host.Load()
	if v == 0 {
		return Size{}, false
	}
	return Size{W: int(v >> 32), H: int(v & math.MaxUint32)}, true
}

// Scale converts a local point to host pixels as (x*W/w, y*H/h) with
// integer truncation, clamped to the int16 wire range.
func (s *Scaler) Scale(x, y int) (int16, int16) {
	host, ok := s.Host()
	if !ok {
		return 0, 0
	}
	display := s.Display
	if display.W <= 0 || display.H <= 0 {
		display = host
	}
	sx := int64(x) * int64(host.W) / int64(display.W)
	sy := int64(y) * int64(host.H) / int64(display.H)
	return clamp16(sx), clamp16(sy)
}

func clamp16(v int64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
