package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is configured without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrDeviceUnavailable is returned when the serial device does not exist
	// or cannot be claimed (already in use, permission denied).
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrNoModemFound is returned by Connect when no port was configured and
	// auto-discovery found no candidate.
	ErrNoModemFound = errors.New("no modem found")

	// ErrModemNotResponding is returned by Connect when the liveness probe
	// did not produce OK within the configured timeout.
	ErrModemNotResponding = errors.New("modem not responding")

	// ErrModemNotReady is returned by SendSMS when the modem never showed the
	// ">" prompt after the recipient was announced. The message body has not
	// been written in that case.
	ErrModemNotReady = errors.New("modem not ready for message text")

	// ErrSendRejected is returned by SendSMS when the body was written but
	// neither OK nor a +CMGS confirmation arrived.
	ErrSendRejected = errors.New("message rejected")

	// ErrTransportLost is returned when an I/O failure interrupts an
	// operation. The session is closed and Connect must be called again.
	ErrTransportLost = errors.New("transport lost")

	// ErrIO wraps low level read and write failures of a Session.
	ErrIO = errors.New("i/o error")

	// ErrInvalidRecipient is returned by SendSMS when the recipient is not a
	// plain, optionally "+" prefixed, digit string.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrInvalidMessage is returned by SendSMS when the text contains a
	// Ctrl-Z or ESC byte, which would end or abort the message early.
	ErrInvalidMessage = errors.New("invalid message text")

	// ErrNotConnected is returned when an operation needs a ready modem.
	ErrNotConnected = errors.New("modem not connected")
)
