package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProtocolTrace writes every protocol block to a dedicated file. Callers
// pass blocks with secrets already masked.
type ProtocolTrace struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	now func() time.Time
}

// OpenTrace appends to the trace file at path.
func OpenTrace(path string) (*ProtocolTrace, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("logging: trace: %w", err)
	}
	return &ProtocolTrace{w: f, c: f, now: time.Now}, nil
}

// NewTrace writes to w. Used in tests and when the trace goes to stderr.
func NewTrace(w io.Writer) *ProtocolTrace {
	return &ProtocolTrace{w: w, now: time.Now}
}

// Trace records one block. Write failures are dropped; tracing never
// interrupts the protocol session.
func (t *ProtocolTrace) Trace(direction, block string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	label := "RECV"
	if direction == ">>" {
		label = "SEND"
	}
	block = strings.TrimRight(block, "\r\n")
	fmt.Fprintf(t.w, "[%s] %s\n%s\n\n", t.now().Format("2006-01-02 15:04:05"), label, block)
}

// Close releases the trace file.
func (t *ProtocolTrace) Close() error {
	if t.c == nil {
		return nil
	}
	return t.c.Close()
}
