package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/minasoft/hl7-engine/internal/format"
	"github.com/minasoft/hl7-engine/internal/script"
	"github.com/minasoft/hl7-engine/internal/transport"
	"github.com/stretchr/testify/assert"
)

func TestErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"channel not found", fmt.Errorf("%w: 42", ErrChannelNotFound), "ChannelNotFound"},
		{"channel not running", fmt.Errorf("%w: kanal 1", ErrChannelNotRunning), "ChannelNotRunning"},
		{"message not found", ErrMessageNotFound, "MessageNotFound"},
		{"precondition", fmt.Errorf("%w: detay", ErrPrecondition), "PreconditionError"},
		{"script timeout", &script.TimeoutError{Role: script.RoleFilter, Timeout: time.Second}, "ScriptTimeoutError"},
		{"script exec", &script.ExecError{Role: script.RoleTemplate, Err: errors.New("bozuk")}, "ScriptExecutionError"},
		{"format conversion", &format.ConversionError{From: format.HL7, To: format.JSON, Err: errors.New("geçersiz")}, "FormatConversionError"},
		{"transport", &transport.Error{Kind: "REST", Endpoint: "http://x", Err: errors.New("ağ")}, "TransportError"},
		{"wrapped transport", fmt.Errorf("sarılmış: %w", &transport.Error{Kind: "TCP", Err: errors.New("ağ")}), "TransportError"},
		{"unknown", errors.New("beklenmeyen"), "InternalError"},
		{"nil", nil, "InternalError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ErrorType(tt.err))
		})
	}
}
