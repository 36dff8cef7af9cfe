package modem

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is the read step used while waiting for a terminator.
const DefaultPollInterval = 100 * time.Millisecond

// Session owns exactly one open Transport and provides raw writes and
// bounded-wait reads on it. A Session is not safe for concurrent exchanges;
// the mutex only protects its open/closed state.
type Session struct {
	path   string
	logger *zap.Logger

	mu        sync.Mutex
	transport Transport
	open      bool
}

// Open dials path through dialer and wraps the result in a Session.
func Open(ctx context.Context, dialer Dialer, path string, baudRate int, timeout time.Duration, logger *zap.Logger) (*Session, error) {
	if dialer == nil {
		return nil, ErrNoDialer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport, err := dialer.Dial(ctx, path, baudRate)
	if err != nil {
		logger.Error("Failed to open serial port", zap.String("port", path), zap.Error(err))
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: dialer returned no transport for %s", ErrDeviceUnavailable, path)
	}

	logger.Info("Serial port opened",
		zap.String("port", path),
		zap.Int("baud_rate", baudRate),
		zap.Duration("timeout", timeout),
	)

	return &Session{
		path:      path,
		logger:    logger,
		transport: transport,
		open:      true,
	}, nil
}

// IsOpen reports whether the session is open and, where the transport can
// tell, whether the device is still attached.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false
	}
	if alive, ok := s.transport.(interface{ Alive() bool }); ok {
		return alive.Alive()
	}
	return true
}

// Write writes p to the device. A failed write closes the session.
func (s *Session) Write(p []byte) error {
	t, err := s.current()
	if err != nil {
		return err
	}

	n, err := t.Write(p)
	if err == nil && n != len(p) {
		err = fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(p))
	}
	if err != nil {
		s.logger.Error("Serial write failed", zap.String("port", s.path), zap.Error(err))
		s.Close()
		return fmt.Errorf("%w: write %s: %v", ErrIO, s.path, err)
	}

	s.logger.Debug("Serial write completed", zap.Int("bytes", n), zap.ByteString("data", p))
	return nil
}

// ReadUntil accumulates input until one of terminators appears in it or the
// deadline passes, whichever comes first. It returns the accumulated text and
// whether a terminator was seen; running into the deadline is not an error.
// Invalid UTF-8 is dropped from the text.
//
// Each Read on the transport blocks for at most one poll interval, so
// ReadUntil returns no later than one poll interval after the deadline. A
// read failure or a done ctx closes the session.
func (s *Session) ReadUntil(ctx context.Context, deadline time.Time, terminators ...string) (string, bool, error) {
	t, err := s.current()
	if err != nil {
		return "", false, err
	}

	var raw bytes.Buffer
	buf := make([]byte, 256)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			s.Close()
			return decode(raw.Bytes()), false, fmt.Errorf("%w: %v", ErrIO, err)
		}

		n, err := t.Read(buf)
		if n > 0 {
			raw.Write(buf[:n])
			text := decode(raw.Bytes())
			if containsAny(text, terminators) {
				s.logger.Debug("Serial read completed", zap.String("response", text))
				return text, true, nil
			}
		}
		if err != nil {
			s.logger.Error("Serial read failed", zap.String("port", s.path), zap.Error(err))
			s.Close()
			return decode(raw.Bytes()), false, fmt.Errorf("%w: read %s: %v", ErrIO, s.path, err)
		}
	}

	text := decode(raw.Bytes())
	s.logger.Debug("Serial read deadline reached",
		zap.Strings("terminators", terminators),
		zap.String("response", text),
	)
	return text, false, nil
}

// Close releases the device. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false

	if err := s.transport.Close(); err != nil {
		s.logger.Error("Failed to close serial port", zap.String("port", s.path), zap.Error(err))
		return fmt.Errorf("close %s: %w", s.path, err)
	}

	s.logger.Info("Serial port closed", zap.String("port", s.path))
	return nil
}

func (s *Session) current() (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, fmt.Errorf("%w: session %s is closed", ErrIO, s.path)
	}
	return s.transport, nil
}

// decode turns raw modem output into text, dropping invalid byte sequences.
func decode(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "")
}

func containsAny(text string, terminators []string) bool {
	for _, term := range terminators {
		if term != "" && strings.Contains(text, term) {
			return true
		}
	}
	return false
}
