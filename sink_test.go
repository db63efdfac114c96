package shellyedge

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type closeFailSink struct{ recordingSink }

func (c *closeFailSink) Close() error { return fmt.Errorf("still busy") }

func TestMultiSinkWritesAll(t *testing.T) {
	first, second := &recordingSink{}, &recordingSink{}
	multi := NewMultiSink()
	multi.Add("first", first)
	multi.Add("second", second)
	if multi.Len() != 2 {
		t.Fatalf("len %d", multi.Len())
	}
	points := []Point{StatusPoint(testStatus, time.Now())}
	if err := multi.Write(context.Background(), points); err != nil {
		t.Fatal(err)
	}
	if first.count() != 1 || second.count() != 1 {
		t.Errorf("writes %d, %d", first.count(), second.count())
	}
	if err := multi.Close(); err != nil || !first.closed || !second.closed {
		t.Errorf("close %v", err)
	}
}

func TestMultiSinkStopsAtFailure(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	failing, after := &recordingSink{err: cause}, &recordingSink{}
	multi := NewMultiSink()
	multi.Add("sql", failing)
	multi.Add("mqtt", after)
	err := multi.Write(context.Background(), []Point{StatusPoint(testStatus, time.Now())})
	if !errors.Is(err, cause) || !strings.Contains(err.Error(), "sink sql") {
		t.Fatalf("got %v", err)
	}
	if after.count() != 0 {
		t.Errorf("second sink written after failure")
	}
}

func TestMultiSinkCloseReportsFirstError(t *testing.T) {
	multi := NewMultiSink()
	ok := &recordingSink{}
	multi.Add("broken", &closeFailSink{})
	multi.Add("ok", ok)
	if err := multi.Close(); err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("got %v", err)
	}
	if !ok.closed {
		t.Errorf("remaining sink not closed")
	}
}

func TestSinkErrorCause(t *testing.T) {
	cause := fmt.Errorf("database down")
	err := error(&SinkError{Points: 3, Err: cause})
	if errors.Cause(err) != cause || !errors.Is(err, cause) {
		t.Errorf("cause lost: %v", err)
	}
}
