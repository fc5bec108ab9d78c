package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minasoft/hl7-engine/internal/db"
	"github.com/minasoft/hl7-engine/internal/format"
	"github.com/minasoft/hl7-engine/internal/script"
	"github.com/minasoft/hl7-engine/internal/transport"
)

// Store is the persistence surface the engine needs.
type Store interface {
	GetChannel(ctx context.Context, id int64) (*db.Channel, error)
	ListEnabledDestinations(ctx context.Context, channelID int64) ([]db.Destination, error)
	GetDestination(ctx context.Context, id int64) (*db.Destination, error)
	GetMessage(ctx context.Context, id string) (*db.Message, error)
	InsertMessage(ctx context.Context, m *db.Message) error
	SetMessageTransformed(ctx context.Context, id, payload, status string) error
	SetMessageStatus(ctx context.Context, id, status, errorDetail string) error
	InsertDestinationLog(ctx context.Context, l *db.DestinationLog) error
	IncrementDestinationSent(ctx context.Context, id int64) error
	IncrementDestinationError(ctx context.Context, id int64) error
}

// Event is one message lifecycle notification for the live dashboard feed.
type Event struct {
	Type          string    `json:"type"`
	MessageID     string    `json:"message_id"`
	ChannelID     int64     `json:"channel_id"`
	DestinationID int64     `json:"destination_id,omitempty"`
	Status        string    `json:"status"`
	Detail        string    `json:"detail,omitempty"`
	At            time.Time `json:"at"`
}

// Publisher receives lifecycle events; implementations must not block.
type Publisher interface {
	Publish(ev Event)
}

// SenderFactory yields the delivery strategy for a transport kind.
type SenderFactory func(kind string) (transport.Sender, error)

// DestinationResult is one destination's outcome within an inbound event.
type DestinationResult struct {
	DestinationID int64  `json:"destination_id"`
	Name          string `json:"name"`
	MessageID     string `json:"message_id"`
	Status        string `json:"status"`
	Response      string `json:"response"`
}

// Outcome is the structured result of one inbound message.
type Outcome struct {
	MessageID string              `json:"message_id"`
	Status    string              `json:"status"`
	Results   []DestinationResult `json:"results,omitempty"`
}

// Engine is the message processing pipeline: record the inbound message,
// apply the channel transform, fan out to every enabled destination and
// compute the aggregate lifecycle status.
type Engine struct {
	store     Store
	sandbox   *script.Sandbox
	senders   SenderFactory
	publisher Publisher
}

func New(store Store, sandbox *script.Sandbox, senders SenderFactory, publisher Publisher) *Engine {
	return &Engine{
		store:     store,
		sandbox:   sandbox,
		senders:   senders,
		publisher: publisher,
	}
}

// ProcessInbound runs the full pipeline for one received payload.
func (e *Engine) ProcessInbound(ctx context.Context, channelID int64, rawPayload string) (*Outcome, error) {
	channel, err := e.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, channelID)
	}

	detected := format.Detect(rawPayload)

	if channel.Status != db.ChannelRunning {
		skipped := &db.Message{
			ID:              uuid.New().String(),
			ChannelID:       channelID,
			Direction:       db.DirectionIn,
			MessageType:     string(detected),
			OriginalPayload: rawPayload,
			Status:          db.StatusSkipped,
		}
		if err := e.store.InsertMessage(ctx, skipped); err != nil {
			return nil, err
		}
		slog.Warn("Kanal çalışmıyor, mesaj atlandı", "channelID", channelID, "status", channel.Status)
		return nil, fmt.Errorf("%w: kanal %d durumu %s", ErrChannelNotRunning, channelID, channel.Status)
	}

	inbound := &db.Message{
		ID:              uuid.New().String(),
		ChannelID:       channelID,
		Direction:       db.DirectionIn,
		MessageType:     string(detected),
		OriginalPayload: rawPayload,
		Status:          db.StatusInProcess,
	}
	if err := e.store.InsertMessage(ctx, inbound); err != nil {
		return nil, err
	}
	e.publish(Event{Type: "inbound", MessageID: inbound.ID, ChannelID: channelID, Status: db.StatusInProcess})

	slog.Info("Gelen mesaj kaydedildi",
		"messageID", inbound.ID,
		"channelID", channelID,
		"format", detected)

	// Source transform. Failure here is fatal to the whole inbound event; no
	// destination is ever contacted.
	transformed := rawPayload
	if strings.TrimSpace(channel.ProcessingScript) != "" {
		result, err := e.sandbox.Run(ctx, script.RoleSourceTransform, channel.ProcessingScript,
			map[string]any{"msg": bindValue(rawPayload)})
		if err != nil {
			slog.Error("Kaynak transform scripti hatası", "messageID", inbound.ID, "error", err)
			if dbErr := e.store.SetMessageStatus(ctx, inbound.ID, db.StatusInError, err.Error()); dbErr != nil {
				return nil, dbErr
			}
			e.publish(Event{Type: "inbound", MessageID: inbound.ID, ChannelID: channelID, Status: db.StatusInError, Detail: err.Error()})
			return &Outcome{MessageID: inbound.ID, Status: db.StatusInError}, err
		}
		transformed = stringify(result)
	}

	if err := e.store.SetMessageTransformed(ctx, inbound.ID, transformed, db.StatusInProcessed); err != nil {
		return nil, err
	}

	destinations, err := e.store.ListEnabledDestinations(ctx, channelID)
	if err != nil {
		return nil, err
	}

	if len(destinations) == 0 {
		if err := e.store.SetMessageStatus(ctx, inbound.ID, db.StatusReceived, ""); err != nil {
			return nil, err
		}
		e.publish(Event{Type: "inbound", MessageID: inbound.ID, ChannelID: channelID, Status: db.StatusReceived})
		return &Outcome{MessageID: inbound.ID, Status: db.StatusReceived}, nil
	}

	// Fan-out: each destination works on its own clone of the transformed
	// payload; a failure in one never touches its siblings.
	results := make([]DestinationResult, len(destinations))
	persistErrs := make([]error, len(destinations))
	var wg sync.WaitGroup
	for i := range destinations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], persistErrs[i] = e.deliver(ctx, inbound.ID, channelID, destinations[i], transformed)
		}(i)
	}
	wg.Wait()

	for _, perr := range persistErrs {
		if perr != nil {
			return nil, perr
		}
	}

	// Every destination outcome is persisted before the aggregate is written.
	aggregate := aggregateStatus(results)
	if err := e.store.SetMessageStatus(ctx, inbound.ID, aggregate, ""); err != nil {
		return nil, err
	}
	e.publish(Event{Type: "inbound", MessageID: inbound.ID, ChannelID: channelID, Status: aggregate})

	slog.Info("Gelen mesaj tamamlandı",
		"messageID", inbound.ID,
		"status", aggregate,
		"destinations", len(results))

	return &Outcome{MessageID: inbound.ID, Status: aggregate, Results: results}, nil
}

// deliver runs one destination's pipeline: transform, template override,
// format conversion, transport send, response shaping and audit writes. The
// returned error is a persistence failure only; delivery failures land in the
// result as OUT-ERROR.
func (e *Engine) deliver(ctx context.Context, parentID string, channelID int64, dest db.Destination, basePayload string) (DestinationResult, error) {
	requestPayload := basePayload
	payload := basePayload
	var sendErr error
	responseText := ""

	if strings.TrimSpace(dest.ProcessingScript) != "" {
		result, err := e.sandbox.Run(ctx, script.RoleDestinationTransform, dest.ProcessingScript,
			map[string]any{"msg": bindValue(payload)})
		if err != nil {
			sendErr = err
		} else {
			payload = stringify(result)
		}
	}

	// A template replaces the message outright; it never composes with the
	// transform output.
	if sendErr == nil && strings.TrimSpace(dest.TemplateScript) != "" {
		result, err := e.sandbox.Run(ctx, script.RoleTemplate, dest.TemplateScript,
			map[string]any{"msg": bindValue(payload)})
		if err != nil {
			sendErr = err
		} else {
			payload = stringify(result)
		}
	}

	target := format.ParseFormat(dest.OutboundDataType)
	if sendErr == nil {
		if current := format.Detect(payload); current != target {
			converted, err := format.Convert(payload, current, target)
			if err != nil {
				sendErr = err
			} else {
				payload = converted
				slog.Debug("Format dönüştürüldü", "destination", dest.Name, "from", current, "to", target)
			}
		}
	}

	if sendErr == nil {
		sender, err := e.senders(dest.Type)
		if err != nil {
			sendErr = err
		} else {
			responseText, sendErr = sender.Send(ctx, dest.Endpoint, payload, target)
		}
	}

	if sendErr == nil && strings.TrimSpace(dest.ResponseScript) != "" {
		result, err := e.sandbox.Run(ctx, script.RoleResponse, dest.ResponseScript,
			map[string]any{"msg": bindValue(payload), "response": responseText})
		if err != nil {
			sendErr = err
		} else {
			responseText = stringify(result)
		}
	}

	status := db.StatusOutSent
	if sendErr != nil {
		status = db.StatusOutError
		responseText = sendErr.Error()
		slog.Error("Hedefe gönderim başarısız", "destination", dest.Name, "endpoint", dest.Endpoint, "error", sendErr)
	} else {
		slog.Info("Hedefe gönderildi", "destination", dest.Name, "endpoint", dest.Endpoint)
	}

	outbound := &db.Message{
		ID:              uuid.New().String(),
		ChannelID:       channelID,
		ParentID:        parentID,
		DestinationID:   dest.ID,
		Direction:       db.DirectionOut,
		MessageType:     string(target),
		OriginalPayload: requestPayload,
		RequestPayload:  requestPayload,
		OutboundPayload: payload,
		Status:          status,
		ErrorDetail:     errDetail(sendErr),
	}
	if err := e.store.InsertMessage(ctx, outbound); err != nil {
		return DestinationResult{}, err
	}

	if err := e.store.InsertDestinationLog(ctx, &db.DestinationLog{
		MessageID:       outbound.ID,
		DestinationID:   dest.ID,
		Status:          status,
		ResponseText:    responseText,
		RequestPayload:  requestPayload,
		OutboundPayload: payload,
	}); err != nil {
		return DestinationResult{}, err
	}

	var counterErr error
	if status == db.StatusOutSent {
		counterErr = e.store.IncrementDestinationSent(ctx, dest.ID)
	} else {
		counterErr = e.store.IncrementDestinationError(ctx, dest.ID)
	}
	if counterErr != nil {
		return DestinationResult{}, counterErr
	}

	e.publish(Event{Type: "outbound", MessageID: outbound.ID, ChannelID: channelID,
		DestinationID: dest.ID, Status: status, Detail: errDetail(sendErr)})

	return DestinationResult{
		DestinationID: dest.ID,
		Name:          dest.Name,
		MessageID:     outbound.ID,
		Status:        status,
		Response:      responseText,
	}, nil
}

// SendToDestinations is the diagnostic path: it pushes an explicit payload to
// every enabled destination of a channel, bypassing the source transform.
func (e *Engine) SendToDestinations(ctx context.Context, channelID int64, parentMessageID, payload string) ([]DestinationResult, error) {
	channel, err := e.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, channelID)
	}

	destinations, err := e.store.ListEnabledDestinations(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if len(destinations) == 0 {
		return nil, fmt.Errorf("%w: kanal %d için etkin hedef yok", ErrPrecondition, channelID)
	}

	results := make([]DestinationResult, len(destinations))
	persistErrs := make([]error, len(destinations))
	var wg sync.WaitGroup
	for i := range destinations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], persistErrs[i] = e.deliver(ctx, parentMessageID, channelID, destinations[i], payload)
		}(i)
	}
	wg.Wait()

	for _, perr := range persistErrs {
		if perr != nil {
			return nil, perr
		}
	}
	return results, nil
}

// RunResponseScript shapes the HTTP reply with the channel's response script;
// on any failure the default envelope is used instead.
func (e *Engine) RunResponseScript(ctx context.Context, channel *db.Channel, payload string, outcome *Outcome) (any, bool) {
	if channel == nil || strings.TrimSpace(channel.ResponseScript) == "" {
		return nil, false
	}
	// Scripts address the outcome by its wire field names.
	var resultValue any
	if data, err := json.Marshal(outcome); err == nil {
		json.Unmarshal(data, &resultValue)
	}

	result, err := e.sandbox.Run(ctx, script.RoleResponse, channel.ResponseScript,
		map[string]any{"msg": bindValue(payload), "result": resultValue})
	if err != nil {
		slog.Error("Kanal yanıt scripti hatası", "channelID", channel.ID, "error", err)
		return nil, false
	}
	return result, true
}

// Channel exposes a channel lookup for the HTTP layer.
func (e *Engine) Channel(ctx context.Context, id int64) (*db.Channel, error) {
	return e.store.GetChannel(ctx, id)
}

func (e *Engine) publish(ev Event) {
	if e.publisher == nil {
		return
	}
	ev.At = time.Now()
	e.publisher.Publish(ev)
}

// aggregateStatus derives the inbound message's final state from its
// destination outcomes: RECEIVED with none, SUCCESS when all sent, FAILED
// when all errored, PARTIAL otherwise.
func aggregateStatus(results []DestinationResult) string {
	if len(results) == 0 {
		return db.StatusReceived
	}
	success := 0
	for _, r := range results {
		if r.Status == db.StatusOutSent {
			success++
		}
	}
	switch success {
	case len(results):
		return db.StatusSuccess
	case 0:
		return db.StatusFailed
	default:
		return db.StatusPartial
	}
}

// bindValue prepares the sandbox "msg" binding: JSON payloads become objects
// the way scripts expect, everything else stays a raw string.
func bindValue(payload string) any {
	if format.Detect(payload) == format.JSON {
		var v any
		if err := json.Unmarshal([]byte(payload), &v); err == nil {
			return v
		}
	}
	return payload
}

// stringify renders a script result back to a wire payload.
func stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
