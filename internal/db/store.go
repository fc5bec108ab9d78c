package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store issues the engine's parameterized reads and writes. Counter updates
// use atomic SQL increments so concurrent destination fan-out never loses one.
type Store struct {
	db *sql.DB
}

func NewStore(sqlDB *sql.DB) *Store {
	return &Store{db: sqlDB}
}

const channelColumns = `id, name, status, source_type, source_endpoint, inbound_data_type,
	processing_script, response_script, filter_script, created_at, updated_at`

// GetChannel returns the channel or nil when it does not exist.
func (s *Store) GetChannel(ctx context.Context, id int64) (*Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)

	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kanal okunamadı: %w", err)
	}
	return ch, nil
}

// ListRoutableChannels returns every channel configured for the given source
// transport kind; the MLLP listener filters on status and filter script.
func (s *Store) ListRoutableChannels(ctx context.Context, sourceType string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE source_type = $1 ORDER BY id`, sourceType)
	if err != nil {
		return nil, fmt.Errorf("kanal listesi okunamadı: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("kanal satırı okunamadı: %w", err)
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.Status, &ch.SourceType, &ch.SourceEndpoint,
		&ch.InboundDataType, &ch.ProcessingScript, &ch.ResponseScript, &ch.FilterScript,
		&ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

const destinationColumns = `id, channel_id, name, type, endpoint, outbound_data_type,
	processing_script, response_script, template_script, is_enabled, total_sent, total_error, last_sent`

// ListEnabledDestinations returns the channel's enabled delivery targets.
func (s *Store) ListEnabledDestinations(ctx context.Context, channelID int64) ([]Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE channel_id = $1 AND is_enabled = TRUE ORDER BY id`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("hedef listesi okunamadı: %w", err)
	}
	defer rows.Close()

	var dests []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("hedef satırı okunamadı: %w", err)
		}
		dests = append(dests, *d)
	}
	return dests, rows.Err()
}

// GetDestination returns the destination or nil when it does not exist.
func (s *Store) GetDestination(ctx context.Context, id int64) (*Destination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = $1`, id)

	d, err := scanDestination(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hedef okunamadı: %w", err)
	}
	return d, nil
}

func scanDestination(row rowScanner) (*Destination, error) {
	var d Destination
	var lastSent sql.NullTime
	err := row.Scan(&d.ID, &d.ChannelID, &d.Name, &d.Type, &d.Endpoint, &d.OutboundDataType,
		&d.ProcessingScript, &d.ResponseScript, &d.TemplateScript, &d.IsEnabled,
		&d.TotalSent, &d.TotalError, &lastSent)
	if err != nil {
		return nil, err
	}
	if lastSent.Valid {
		d.LastSent = &lastSent.Time
	}
	return &d, nil
}

// InsertMessage persists a new audit row. CreatedAt defaults to now.
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, parent_id, destination_id, direction, message_type,
			original_payload, transformed_payload, request_payload, outbound_payload, status, error_detail, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, 0), $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.ChannelID, m.ParentID, m.DestinationID, m.Direction, m.MessageType,
		m.OriginalPayload, m.TransformedPayload, m.RequestPayload, m.OutboundPayload,
		m.Status, m.ErrorDetail, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("mesaj kaydedilemedi: %w", err)
	}
	return nil
}

// SetMessageTransformed stores the post-transform payload and advances status.
func (s *Store) SetMessageTransformed(ctx context.Context, id, payload, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET transformed_payload = $2, status = $3, updated_at = now() WHERE id = $1`,
		id, payload, status)
	if err != nil {
		return fmt.Errorf("mesaj güncellenemedi: %w", err)
	}
	return nil
}

// SetMessageStatus advances a message's status, optionally with error detail.
func (s *Store) SetMessageStatus(ctx context.Context, id, status, errorDetail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $2, error_detail = $3, updated_at = now() WHERE id = $1`,
		id, status, errorDetail)
	if err != nil {
		return fmt.Errorf("mesaj durumu güncellenemedi: %w", err)
	}
	return nil
}

// GetMessage returns the message or nil when it does not exist.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, COALESCE(parent_id::text, ''), COALESCE(destination_id, 0),
			direction, message_type, original_payload, transformed_payload, request_payload,
			outbound_payload, status, error_detail, created_at, updated_at
		 FROM messages WHERE id = $1`, id)

	var m Message
	var updatedAt sql.NullTime
	err := row.Scan(&m.ID, &m.ChannelID, &m.ParentID, &m.DestinationID, &m.Direction,
		&m.MessageType, &m.OriginalPayload, &m.TransformedPayload, &m.RequestPayload,
		&m.OutboundPayload, &m.Status, &m.ErrorDetail, &m.CreatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mesaj okunamadı: %w", err)
	}
	if updatedAt.Valid {
		m.UpdatedAt = &updatedAt.Time
	}
	return &m, nil
}

// InsertDestinationLog records one delivery attempt in the audit trail.
func (s *Store) InsertDestinationLog(ctx context.Context, l *DestinationLog) error {
	if l.SentAt.IsZero() {
		l.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_destination_log (message_id, destination_id, status, response_text,
			request_payload, outbound_payload, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.MessageID, l.DestinationID, l.Status, l.ResponseText, l.RequestPayload, l.OutboundPayload, l.SentAt)
	if err != nil {
		return fmt.Errorf("gönderim kaydı yazılamadı: %w", err)
	}
	return nil
}

// IncrementDestinationSent bumps the success counter and stamps last_sent.
func (s *Store) IncrementDestinationSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE destinations SET total_sent = total_sent + 1, last_sent = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("gönderim sayacı artırılamadı: %w", err)
	}
	return nil
}

// IncrementDestinationError bumps the failure counter.
func (s *Store) IncrementDestinationError(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE destinations SET total_error = total_error + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("hata sayacı artırılamadı: %w", err)
	}
	return nil
}

// MessageFilter narrows ListMessages; zero values mean no constraint.
type MessageFilter struct {
	ChannelID int64
	Direction string
	Status    string
	Limit     int
}

func (s *Store) ListMessages(ctx context.Context, f MessageFilter) ([]Message, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, COALESCE(parent_id::text, ''), COALESCE(destination_id, 0),
			direction, message_type, original_payload, transformed_payload, request_payload,
			outbound_payload, status, error_detail, created_at, updated_at
		 FROM messages
		 WHERE ($1 = 0 OR channel_id = $1)
		   AND ($2 = '' OR direction = $2)
		   AND ($3 = '' OR status = $3)
		 ORDER BY created_at DESC
		 LIMIT $4`,
		f.ChannelID, f.Direction, f.Status, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("mesaj listesi okunamadı: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var updatedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.ParentID, &m.DestinationID, &m.Direction,
			&m.MessageType, &m.OriginalPayload, &m.TransformedPayload, &m.RequestPayload,
			&m.OutboundPayload, &m.Status, &m.ErrorDetail, &m.CreatedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("mesaj satırı okunamadı: %w", err)
		}
		if updatedAt.Valid {
			m.UpdatedAt = &updatedAt.Time
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListDestinationLogs returns the delivery attempts for a message, newest first.
func (s *Store) ListDestinationLogs(ctx context.Context, messageID string) ([]DestinationLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.message_id, l.destination_id, d.name, l.status, l.response_text,
			l.request_payload, l.outbound_payload, l.sent_at
		 FROM message_destination_log l
		 JOIN destinations d ON d.id = l.destination_id
		 WHERE l.message_id = $1
		 ORDER BY l.sent_at DESC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("gönderim kayıtları okunamadı: %w", err)
	}
	defer rows.Close()

	var logs []DestinationLog
	for rows.Next() {
		var l DestinationLog
		if err := rows.Scan(&l.ID, &l.MessageID, &l.DestinationID, &l.DestinationName,
			&l.Status, &l.ResponseText, &l.RequestPayload, &l.OutboundPayload, &l.SentAt); err != nil {
			return nil, fmt.Errorf("gönderim satırı okunamadı: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Stats aggregates message counts for the monitor dashboard.
func (s *Store) Stats(ctx context.Context) (*MessageStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE direction = 'IN'),
			COUNT(*) FILTER (WHERE direction = 'OUT' AND status = 'OUT-SENT'),
			COUNT(*) FILTER (WHERE status IN ('OUT-ERROR', 'IN-ERROR', 'FAILED'))
		 FROM messages`)

	var st MessageStats
	if err := row.Scan(&st.TotalMessages, &st.TotalReceived, &st.TotalSent, &st.TotalErrors); err != nil {
		return nil, fmt.Errorf("istatistik okunamadı: %w", err)
	}
	return &st, nil
}
