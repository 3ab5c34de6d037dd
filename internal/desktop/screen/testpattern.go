package screen

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
)

// TestPattern renders a synthetic desktop: a gradient with a bar that
// moves one step per capture. It stands in for a real screen in demos and
// headless tests.
type TestPattern struct {
	Width, Height int
	Quality       int // JPEG quality, 0 means 75

	mu    sync.Mutex
	frame int
}

func (p *TestPattern) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	n := p.frame
	p.frame++
	p.mu.Unlock()

	w, h := p.Width, p.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	barWidth := max(w/16, 1)
	barX := (n * barWidth) % w
	for y := range h {
		for x := range w {
			c := color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 96, A: 255}
			if x >= barX && x < barX+barWidth {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	quality := p.Quality
	if quality == 0 {
		quality = 75
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Frames returns how many captures have been taken.
func (p *TestPattern) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}
