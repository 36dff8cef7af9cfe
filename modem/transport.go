package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

// Transport represents an established, bidirectional byte stream to a GSM modem.
//
// A Transport is assumed to be already connected and ready for use. Read must
// not block for longer than a short poll interval when no input is pending;
// it returns (0, nil) in that case, which is how go.bug.st/serial behaves once
// a read timeout is set. Typical implementations include serial ports and
// in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a GSM modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port or a test double). The Modem calls it once per Connect with the
// resolved device path and baud rate.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context, path string, baudRate int) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, path string, baudRate int) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, path string, baudRate int) (Transport, error) {
	return f(ctx, path, baudRate)
}

// SerialDialer opens GSM modems attached to a local serial port using
// go.bug.st/serial. Ports are opened 8N1 unless Mode says otherwise.
type SerialDialer struct {
	// Mode overrides the default 8N1 line settings. BaudRate is always taken
	// from the Dial call.
	Mode *serial.Mode
	// PollInterval is the port read timeout, i.e. the longest a single Read
	// blocks while waiting for input. Defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// Dial opens path at baudRate.
func (d SerialDialer) Dial(ctx context.Context, path string, baudRate int) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: serial port name is required", ErrDeviceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := serial.Mode{
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if d.Mode != nil {
		mode = *d.Mode
	}
	mode.BaudRate = baudRate

	port, err := serial.Open(path, &mode)
	if err != nil {
		return nil, openError(path, err)
	}

	poll := d.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if err := port.SetReadTimeout(poll); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	// Drop whatever the modem emitted before we attached.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset input buffer on %s: %w", path, err)
	}

	return &serialTransport{Port: port, path: path}, nil
}

// openError classifies a serial.Open failure. Missing, busy and forbidden
// devices are reported as ErrDeviceUnavailable.
func openError(path string, err error) error {
	var code serial.PortErrorCode = -1
	var portErr *serial.PortError
	var portErrVal serial.PortError
	switch {
	case errors.As(err, &portErr):
		code = portErr.Code()
	case errors.As(err, &portErrVal):
		code = portErrVal.Code()
	}
	switch code {
	case serial.PortNotFound, serial.PortBusy, serial.PermissionDenied, serial.InvalidSerialPort:
		return fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, path, err)
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, path, err)
	}
	return fmt.Errorf("open %s: %w", path, err)
}

// serialTransport is a serial.Port that also knows its device node.
type serialTransport struct {
	serial.Port
	path string
}

// Alive reports whether the device node still exists. USB modems vanish from
// /dev when unplugged while the open descriptor stays valid until the next
// read fails.
func (t *serialTransport) Alive() bool {
	if runtime.GOOS == "windows" {
		return true
	}
	_, err := os.Stat(t.path)
	return err == nil
}
