package engine

import (
	"errors"

	"github.com/minasoft/hl7-engine/internal/format"
	"github.com/minasoft/hl7-engine/internal/script"
	"github.com/minasoft/hl7-engine/internal/transport"
)

var (
	// ErrChannelNotFound is returned when the referenced channel does not exist.
	ErrChannelNotFound = errors.New("kanal bulunamadı")

	// ErrChannelNotRunning is returned when a message arrives for a channel
	// that is not in RUNNING state; the pipeline never runs for it.
	ErrChannelNotRunning = errors.New("kanal çalışır durumda değil")

	// ErrMessageNotFound is returned when the referenced message does not exist.
	ErrMessageNotFound = errors.New("mesaj bulunamadı")

	// ErrPrecondition is returned for an invalid resend target.
	ErrPrecondition = errors.New("ön koşul sağlanmadı")
)

// ErrorType maps an error to the stable code surfaced in HTTP error envelopes.
func ErrorType(err error) string {
	var convErr *format.ConversionError
	var timeoutErr *script.TimeoutError
	var execErr *script.ExecError
	var transportErr *transport.Error

	switch {
	case errors.Is(err, ErrChannelNotFound):
		return "ChannelNotFound"
	case errors.Is(err, ErrChannelNotRunning):
		return "ChannelNotRunning"
	case errors.Is(err, ErrMessageNotFound):
		return "MessageNotFound"
	case errors.Is(err, ErrPrecondition):
		return "PreconditionError"
	case errors.As(err, &timeoutErr):
		return "ScriptTimeoutError"
	case errors.As(err, &execErr):
		return "ScriptExecutionError"
	case errors.As(err, &convErr):
		return "FormatConversionError"
	case errors.As(err, &transportErr):
		return "TransportError"
	default:
		return "InternalError"
	}
}
