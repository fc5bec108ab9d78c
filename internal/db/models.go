package db

import (
	"time"
)

// Channel statuses.
const (
	ChannelRunning = "RUNNING"
	ChannelStopped = "STOPPED"
	ChannelError   = "ERROR"
)

// Source transport kinds.
const (
	SourceHTTP = "HTTP"
	SourceHL7  = "HL7"
)

// Destination transport kinds.
const (
	DestREST = "REST"
	DestHL7  = "HL7"
	DestMLLP = "MLLP"
	DestTCP  = "TCP"
	DestFILE = "FILE"
)

// Message directions.
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// Message statuses. Inbound rows move IN-PROCESS -> IN-PROCESSED -> one of the
// aggregate statuses; outbound rows are written once as OUT-SENT or OUT-ERROR.
const (
	StatusSkipped     = "SKIPPED"
	StatusInProcess   = "IN-PROCESS"
	StatusInProcessed = "IN-PROCESSED"
	StatusInError     = "IN-ERROR"
	StatusReceived    = "RECEIVED"
	StatusSuccess     = "SUCCESS"
	StatusFailed      = "FAILED"
	StatusPartial     = "PARTIAL"
	StatusOutSent     = "OUT-SENT"
	StatusOutError    = "OUT-ERROR"
)

type Channel struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	SourceType       string    `json:"source_type"`
	SourceEndpoint   string    `json:"source_endpoint"`
	InboundDataType  string    `json:"inbound_data_type"`
	ProcessingScript string    `json:"processing_script,omitempty"`
	ResponseScript   string    `json:"response_script,omitempty"`
	FilterScript     string    `json:"filter_script,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Destination struct {
	ID               int64      `json:"id"`
	ChannelID        int64      `json:"channel_id"`
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	Endpoint         string     `json:"endpoint"`
	OutboundDataType string     `json:"outbound_data_type"`
	ProcessingScript string     `json:"processing_script,omitempty"`
	ResponseScript   string     `json:"response_script,omitempty"`
	TemplateScript   string     `json:"template_script,omitempty"`
	IsEnabled        bool       `json:"is_enabled"`
	TotalSent        int64      `json:"total_sent"`
	TotalError       int64      `json:"total_error"`
	LastSent         *time.Time `json:"last_sent,omitempty"`
}

// Message is one append-only audit row: one per received item (direction IN)
// and one per delivery attempt (direction OUT, linked to its inbound parent).
type Message struct {
	ID                 string     `json:"id"`
	ChannelID          int64      `json:"channel_id"`
	ParentID           string     `json:"parent_id,omitempty"`
	DestinationID      int64      `json:"destination_id,omitempty"`
	Direction          string     `json:"direction"`
	MessageType        string     `json:"message_type"`
	OriginalPayload    string     `json:"original_payload"`
	TransformedPayload string     `json:"transformed_payload,omitempty"`
	RequestPayload     string     `json:"request_payload,omitempty"`
	OutboundPayload    string     `json:"outbound_payload,omitempty"`
	Status             string     `json:"status"`
	ErrorDetail        string     `json:"error_detail,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

// DestinationLog is the denormalized per-attempt audit trail surfaced to
// operators; reconstructable from Message + Destination rows if lost.
type DestinationLog struct {
	ID              int64     `json:"id"`
	MessageID       string    `json:"message_id"`
	DestinationID   int64     `json:"destination_id"`
	DestinationName string    `json:"destination_name,omitempty"`
	Status          string    `json:"status"`
	ResponseText    string    `json:"response_text"`
	RequestPayload  string    `json:"request_payload"`
	OutboundPayload string    `json:"outbound_payload"`
	SentAt          time.Time `json:"sent_at"`
}

type MessageStats struct {
	TotalMessages int64 `json:"total_messages"`
	TotalReceived int64 `json:"total_received"`
	TotalSent     int64 `json:"total_sent"`
	TotalErrors   int64 `json:"total_errors"`
}
