package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minasoft/hl7-engine/internal/db"
)

// Resend replays one failed delivery attempt. The stored request snapshot is
// re-run through the destination pipeline with the destination's current
// configuration; a new outbound row is inserted and the failed row is left
// untouched, so resend history accumulates.
func (e *Engine) Resend(ctx context.Context, outboundMessageID string) (*DestinationResult, error) {
	msg, err := e.store.GetMessage(ctx, outboundMessageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, outboundMessageID)
	}

	if msg.Direction != db.DirectionOut {
		return nil, fmt.Errorf("%w: mesaj %s giden yönde değil", ErrPrecondition, outboundMessageID)
	}
	if msg.Status != db.StatusOutError {
		return nil, fmt.Errorf("%w: mesaj %s durumu %s, yalnızca %s yeniden gönderilebilir",
			ErrPrecondition, outboundMessageID, msg.Status, db.StatusOutError)
	}

	dest, err := e.store.GetDestination(ctx, msg.DestinationID)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, fmt.Errorf("%w: hedef %d bulunamadı", ErrPrecondition, msg.DestinationID)
	}

	slog.Info("Mesaj yeniden gönderiliyor",
		"messageID", outboundMessageID,
		"destination", dest.Name,
		"parentID", msg.ParentID)

	result, err := e.deliver(ctx, msg.ParentID, msg.ChannelID, *dest, msg.RequestPayload)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
