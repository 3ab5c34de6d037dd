package clipboard

import (
	"context"
	"sync"
)

// Memory is an in-process clipboard. It backs headless hosts and tests.
type Memory struct {
	mu   sync.Mutex
	text string
	sets int
}

// NewMemory returns a clipboard holding text.
func NewMemory(text string) *Memory {
	return &Memory{text: text}
}

func (m *Memory) GetText(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) SetText(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	m.sets++
	return nil
}

// Sets returns how many times SetText was called.
func (m *Memory) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}
