package shellyedge

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Sink stores a batch of points. A batch either succeeds or fails as a whole.
type Sink interface {
	Write(ctx context.Context, points []Point) error
	Close() error
}

// SinkError ends a sampler run.
type SinkError struct {
	Points int
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("writing %d points failed: %v", e.Points, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Cause() error { return e.Err }

type MultiSink struct {
	names []string
	sinks []Sink
}

func NewMultiSink() *MultiSink {
	return &MultiSink{}
}

func (m *MultiSink) Add(name string, sink Sink) {
	m.names = append(m.names, name)
	m.sinks = append(m.sinks, sink)
}

func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Write hands the batch to every sink in order and stops at the first failure.
func (m *MultiSink) Write(ctx context.Context, points []Point) error {
	logFields := log.Fields{"fnct": "MultiSink.Write", "points": len(points)}
	for i, sink := range m.sinks {
		if err := sink.Write(ctx, points); err != nil {
			log.WithFields(logFields).Errorf("sink %s failed: %v", m.names[i], err)
			return errors.Wrapf(err, "sink %s", m.names[i])
		}
		log.WithFields(logFields).Tracef("sink %s done", m.names[i])
	}
	return nil
}

func (m *MultiSink) Close() error {
	var firstErr error
	for i, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			log.WithFields(log.Fields{"fnct": "MultiSink.Close"}).Warnf("closing sink %s failed: %v", m.names[i], err)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "closing sink %s", m.names[i])
			}
		}
	}
	return firstErr
}
