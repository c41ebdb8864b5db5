package async

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type chanLogger struct {
	lines chan string
}

func (c *chanLogger) Error(format string, args ...any) {
	c.lines <- fmt.Sprintf(format, args...)
}

func TestGoRecoversPanics(t *testing.T) {
	logger := &chanLogger{lines: make(chan string, 1)}
	Go(logger, "worker", func() {
		panic("boom")
	})

	select {
	case line := <-logger.lines:
		if !strings.Contains(line, "[worker]") || !strings.Contains(line, "boom") {
			t.Fatalf("unexpected panic log %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected panic to be logged")
	}
}

func TestSafeConvertsPanicToError(t *testing.T) {
	err := Safe(nil, "attempt", func() error {
		panic("kaboom")
	})
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if panicErr.Error() != "panic: kaboom" {
		t.Fatalf("unexpected message %q", panicErr.Error())
	}

	want := errors.New("plain")
	if got := Safe(nil, "attempt", func() error { return want }); got != want {
		t.Fatalf("expected passthrough error, got %v", got)
	}
}
