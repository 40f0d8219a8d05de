// Package emitter publishes sweep reports to metrics backends.
package emitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/siivous/internal/report"
)

// Emitter publishes a finished sweep report.
type Emitter interface {
	Emit(ctx context.Context, r *report.Report) error
	Close() error
}

// MultiEmitter hands every report to each backend in turn. A failing
// backend does not starve the ones after it.
type MultiEmitter struct {
	backends []Emitter
}

// NewMultiEmitter drops nil backends.
func NewMultiEmitter(backends ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

// Emit returns every backend failure joined.
func (m *MultiEmitter) Emit(ctx context.Context, r *report.Report) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i, b := range m.backends {
		if err := b.Emit(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("emitter %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every backend, even after a failure.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, b := range m.backends {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}
