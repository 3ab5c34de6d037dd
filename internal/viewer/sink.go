package viewer

import (
	"fmt"
	"os"
	"path/filepath"
)

// FrameSink receives each screen image from the host, in arrival order.
// ShowFrame runs on the dispatcher goroutine and must not retain img.
type FrameSink interface {
	ShowFrame(img []byte) error
}

// DiscardSink drops every frame. Useful for headless viewers that only
// drive input.
type DiscardSink struct{}

func (DiscardSink) ShowFrame([]byte) error { return nil }

// FileSink keeps the latest frame in a file. Each frame is written to a
// temporary file in the same directory and renamed over Path, so readers
// never see a partial image.
type FileSink struct {
	Path string
}

func (s *FileSink) ShowFrame(img []byte) error {
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp frame: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("write frame: %w", err)
	}
	if err := os.Rename(name, s.Path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace %s: %w", s.Path, err)
	}
	return nil
}
