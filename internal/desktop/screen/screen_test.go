package screen

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"os/exec"
	"testing"
)

func TestTestPatternDecodes(t *testing.T) {
	p := &TestPattern{Width: 64, Height: 48}
	img, err := p.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format != "jpeg" || cfg.Width != 64 || cfg.Height != 48 {
		t.Fatalf("got %s %dx%d, want jpeg 64x48", format, cfg.Width, cfg.Height)
	}
}

func TestTestPatternMoves(t *testing.T) {
	p := &TestPattern{Width: 64, Height: 16}
	a, _ := p.Capture(context.Background())
	b, _ := p.Capture(context.Background())
	if bytes.Equal(a, b) {
		t.Fatal("consecutive frames are identical")
	}
	if p.Frames() != 2 {
		t.Fatalf("Frames = %d, want 2", p.Frames())
	}
}

func TestTestPatternCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &TestPattern{}
	if _, err := p.Capture(ctx); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestCommandCapture(t *testing.T) {
	if _, err := exec.LookPath("printf"); err != nil {
		t.Skip("no printf")
	}
	c, err := ParseCommand("printf IMG")
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "IMG" {
		t.Fatalf("Capture = %q", got)
	}
}

func TestCommandFailures(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh")
	}
	for _, argv := range [][]string{
		{"sh", "-c", "exit 3"},
		{"sh", "-c", "true"},
		{"/nonexistent/capture-tool"},
	} {
		c := &Command{Argv: argv}
		if _, err := c.Capture(context.Background()); err == nil {
			t.Errorf("%v: expected error", argv)
		}
	}
	if _, err := ParseCommand("   "); err == nil {
		t.Error("ParseCommand accepted an empty line")
	}
}
