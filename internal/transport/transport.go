package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minasoft/hl7-engine/internal/db"
	"github.com/minasoft/hl7-engine/internal/format"
)

// Error tags a delivery failure with the transport kind and endpoint so a DNS
// failure reads differently from an application-level rejection.
type Error struct {
	Kind     string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s gönderimi başarısız (%s): %v", e.Kind, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Sender is one delivery strategy: send the payload and return the raw
// response text.
type Sender interface {
	Send(ctx context.Context, endpoint, payload string, f format.Format) (string, error)
}

// Config carries the transport-level knobs.
type Config struct {
	Timeout     time.Duration
	FileSinkDir string
}

// ForKind selects the strategy for a destination's declared transport kind.
// HL7 and MLLP both use the framed line protocol with a required positive
// acknowledgment; TCP is the raw fire-and-forget socket write.
func ForKind(kind string, cfg Config) (Sender, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	switch kind {
	case db.DestREST:
		return NewRESTSender(cfg.Timeout), nil
	case db.DestHL7, db.DestMLLP:
		return NewMLLPSender(cfg.Timeout), nil
	case db.DestTCP:
		return NewTCPSender(cfg.Timeout), nil
	case db.DestFILE:
		return NewFileSender(cfg.FileSinkDir), nil
	default:
		return nil, fmt.Errorf("desteklenmeyen hedef tipi: %s", kind)
	}
}

// hostPort strips a scheme prefix from socket endpoints (tcp://host:port).
func hostPort(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "tcp://")
	endpoint = strings.TrimPrefix(endpoint, "mllp://")
	endpoint = strings.TrimPrefix(endpoint, "hl7://")
	return endpoint
}
