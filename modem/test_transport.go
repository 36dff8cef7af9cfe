package modem

import (
	"context"
	"io"
	"sync"
	"time"
)

// TestTransport is a test helper that plays a scripted modem. Every Write is
// looked up in the script and the matching reply becomes readable; Read
// returns (0, nil) after a short pause when nothing is pending, like a serial
// port with a read timeout.
type TestTransport struct {
	mu        sync.Mutex
	replies   map[string][]string
	failWrite map[string]error
	pending   []byte
	writes    []string
	readErr   error
	closed    bool
	poll      time.Duration
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		replies:   make(map[string][]string),
		failWrite: make(map[string]error),
		poll:      time.Millisecond,
	}
}

// Reply scripts the answers to successive writes of written. The last answer
// is repeated for any further writes.
func (t *TestTransport) Reply(written string, answers ...string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[written] = append(t.replies[written], answers...)
	return t
}

// FailWrite makes writes of written return err.
func (t *TestTransport) FailWrite(written string, err error) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failWrite[written] = err
	return t
}

// FailRead makes every following Read return err.
func (t *TestTransport) FailRead(err error) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr = err
	return t
}

// Dialer returns a Dialer that hands out this transport.
func (t *TestTransport) Dialer() Dialer {
	return DialerFunc(func(ctx context.Context, path string, baudRate int) (Transport, error) {
		return t, nil
	})
}

// Writes returns everything written so far, one entry per Write.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Closed reports whether Close was called.
func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	written := string(p)
	t.writes = append(t.writes, written)
	if err := t.failWrite[written]; err != nil {
		return 0, err
	}

	answers := t.replies[written]
	if len(answers) > 0 {
		t.pending = append(t.pending, answers[0]...)
		if len(answers) > 1 {
			t.replies[written] = answers[1:]
		}
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.EOF
	}
	if t.readErr != nil {
		err := t.readErr
		t.mu.Unlock()
		return 0, err
	}
	if len(t.pending) > 0 {
		n = copy(p, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	}
	poll := t.poll
	t.mu.Unlock()

	time.Sleep(poll)
	return 0, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
