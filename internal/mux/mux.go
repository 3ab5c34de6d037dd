// Package mux runs the outbound half of a session: independent producer
// loops sharing one stream's write side through a single Writer.
package mux

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Multiplexer owns the producer loops of one session.
type Multiplexer struct {
	w         *Writer
	producers []Producer
	log       *zap.Logger
	wg        sync.WaitGroup
}

// New returns a Multiplexer that runs producers against w.
func New(w *Writer, log *zap.Logger, producers ...Producer) *Multiplexer {
	return &Multiplexer{
		w:         w,
		producers: producers,
		log:       orNop(log),
	}
}

type result struct {
	p   Producer
	err error
}

// Run starts every producer and returns as soon as the outbound side is
// finished: a critical producer exited, a write failed, or ctx was
// cancelled. Non-critical producers that stop leave Run blocked until one
// of those happens. The returned error is the one that ended
// it, nil for a clean stop.
//
// Producers still running when Run returns have been cancelled; Wait
// blocks until they have all exited. A producer stuck in a write only
// exits once the stream is closed.
func (m *Multiplexer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, len(m.producers))
	for _, p := range m.producers {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			results <- result{p: p, err: p.Run(ctx, m.w)}
		}()
	}

	remaining := len(m.producers)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return nil
		case res := <-results:
			remaining--
			switch {
			case errors.Is(res.err, ErrWriteFailed):
				return res.err
			case res.p.Critical():
				if res.err != nil {
					m.log.Warn("producer failed", zap.String("producer", res.p.Name()), zap.Error(res.err))
				} else {
					m.log.Debug("producer finished", zap.String("producer", res.p.Name()))
				}
				return res.err
			case res.err != nil:
				m.log.Warn("producer stopped", zap.String("producer", res.p.Name()), zap.Error(res.err))
			}
		}
	}

	<-ctx.Done()
	return nil
}

// Wait blocks until every producer started by Run has returned.
func (m *Multiplexer) Wait() {
	m.wg.Wait()
}
