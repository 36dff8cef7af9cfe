package modem

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"wildkamera.app/smsgw/at"
)

// smsState is a step of the text-mode send protocol.
type smsState int

const (
	smsIdle smsState = iota
	smsFormatSet
	smsRecipientSent
	smsBodySent
	smsDone
	smsFailed
)

func (s smsState) String() string {
	switch s {
	case smsIdle:
		return "idle"
	case smsFormatSet:
		return "format_set"
	case smsRecipientSent:
		return "recipient_sent"
	case smsBodySent:
		return "body_sent"
	case smsDone:
		return "done"
	case smsFailed:
		return "failed"
	}
	return fmt.Sprintf("smsState(%d)", int(s))
}

var recipientPattern = regexp.MustCompile(`^\+?[0-9]+$`)

// ValidateMessage checks that recipient and text can be put on the modem
// line as is. The recipient ends up inside a quoted AT command and the text
// is terminated by Ctrl-Z, so neither may carry bytes that change the
// command structure.
func ValidateMessage(recipient, text string) error {
	if !recipientPattern.MatchString(recipient) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	if i := strings.IndexAny(text, at.CtrlZ+at.Esc); i >= 0 {
		return fmt.Errorf("%w: control byte 0x%02X at offset %d", ErrInvalidMessage, text[i], i)
	}
	return nil
}

// SendSMS sends a text message to recipient and reports whether the network
// accepted it.
//
// The message is sent in text mode (not PDU mode). The recipient should be
// in international format (e.g., "+491234567890"). The driver does not retry;
// a failed send leaves retrying to the caller.
//
// Errors are ErrInvalidRecipient and ErrInvalidMessage (nothing is written
// then), ErrNotConnected, ErrModemNotReady when the ">" prompt never
// came (the body is not written then), ErrSendRejected when the body got no
// confirmation, and ErrTransportLost on I/O failure.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) (bool, error) {
	if err := ValidateMessage(recipient, message); err != nil {
		m.logger.Warn("Refusing SMS", zap.Error(err))
		return false, err
	}
	if !m.IsReady() {
		return false, ErrNotConnected
	}

	logger := m.logger.With(zap.String("to", recipient))
	logger.Info("Sending SMS", zap.Int("message_length", len(message)))

	state := smsIdle
	fail := func(err error) (bool, error) {
		logger.Error("SMS send failed", zap.Stringer("state", state), zap.Error(err))
		state = smsFailed
		return false, err
	}

	// Idle -> FormatSet. Initialization already selected text mode, so a
	// missing OK here is tolerated.
	ex, err := m.exchange(ctx, at.CmdSetTextMode, at.OK, 0)
	if err != nil {
		return fail(err)
	}
	if !ex.Found {
		logger.Warn("Text mode not acknowledged, continuing")
	}
	state = smsFormatSet

	// FormatSet -> RecipientSent
	ex, err = m.exchange(ctx, at.SendSMS(recipient), at.Prompt, 0)
	if err != nil {
		return fail(err)
	}
	if !ex.Found {
		return fail(fmt.Errorf("%w: got %q", ErrModemNotReady, ex.Response))
	}
	state = smsRecipientSent

	// RecipientSent -> BodySent. Ctrl-Z ends the text; no CR follows.
	if err := m.session.Write([]byte(message + at.CtrlZ)); err != nil {
		return fail(m.lost(err))
	}
	state = smsBodySent

	// A +CMGS: anywhere in the text counts, even though an echoed command
	// line could contain it as well. ERROR (including +CMS ERROR) ends the
	// wait early.
	deadline := time.Now().Add(m.config.SMSTimeout)
	resp, _, err := m.session.ReadUntil(ctx, deadline, at.OK, at.CmgsPrefix, at.ERROR)
	if err != nil {
		return fail(m.lost(err))
	}
	accepted := strings.Contains(resp, at.OK) || strings.Contains(resp, at.CmgsPrefix)
	if !accepted {
		return fail(fmt.Errorf("%w: got %q", ErrSendRejected, strings.TrimSpace(resp)))
	}
	if !strings.Contains(resp, at.OK) {
		// Drain the final result code so it is not taken as the answer to
		// the next command.
		rest, _, err := m.session.ReadUntil(ctx, deadline, at.OK, at.ERROR)
		if err != nil {
			return fail(m.lost(err))
		}
		resp += rest
	}
	resp = strings.TrimSpace(resp)

	state = smsDone
	fields := []zap.Field{zap.Stringer("state", state)}
	if mr, ok := at.MessageReference(resp); ok {
		fields = append(fields, zap.Int("reference", mr))
	}
	logger.Info("SMS sent", fields...)
	return true, nil
}
