// Package output delivers emitted prefetches to their consumers.
package output

import (
	"github.com/sarchlab/qfetch/prefetch"
)

// A Sink receives emitted prefetches in event order.
type Sink interface {
	WritePrefetch(p prefetch.Prefetch) error
	Close() error
}

// Tee fans each prefetch out to several sinks.
type Tee struct {
	sinks []Sink
}

// NewTee creates a sink that forwards to all the given sinks.
func NewTee(sinks ...Sink) *Tee {
	return &Tee{sinks: sinks}
}

// WritePrefetch forwards the prefetch to every sink.
func (t *Tee) WritePrefetch(p prefetch.Prefetch) error {
	for _, s := range t.sinks {
		if err := s.WritePrefetch(p); err != nil {
			return err
		}
	}

	return nil
}

// Close closes every sink.
func (t *Tee) Close() error {
	for _, s := range t.sinks {
		if err := s.Close(); err != nil {
			return err
		}
	}

	return nil
}
