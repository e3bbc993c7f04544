package websocket

import (
	"encoding/json"
	"time"
)

// Message types for WebSocket events
const (
	TypePayment   = "payment"
	TypeRouting   = "routing"
	TypeHealth    = "health"
	TypeHeartbeat = "heartbeat"
)

// Payment events
const (
	EventPaymentInitiated = "payment_initiated"
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventFallbackTriggered = "fallback_triggered"
	EventRefundProcessed  = "refund_processed"
)

// Routing events
const (
	EventRegionResolved = "region_resolved"
	EventRegionDefaulted = "region_defaulted"
)

// Health events
const (
	EventSourceHealthy   = "source_healthy"
	EventSourceUnhealthy = "source_unhealthy"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType, event string, data interface{}) *Message {
	return &Message{
		Type:      msgType,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PaymentData represents payment event data
type PaymentData struct {
	Reference      string `json:"reference,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Method         string `json:"method,omitempty"`
	PreviousMethod string `json:"previous_method,omitempty"`
	Region         string `json:"region,omitempty"`
	Status         string `json:"status"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Duration       string `json:"duration,omitempty"`
}

// RoutingData represents region resolution event data
type RoutingData struct {
	Address   string `json:"address"`
	Region    string `json:"region"`
	Source    string `json:"source,omitempty"`
	CacheHit  bool   `json:"cache_hit"`
	Defaulted bool   `json:"defaulted,omitempty"`
}

// SourceHealthData represents upstream health event data
type SourceHealthData struct {
	Service    string `json:"service"`
	Status     string `json:"status"`
	ErrorCount int64  `json:"error_count"`
}

// HeartbeatData represents heartbeat data
type HeartbeatData struct {
	ServerTime  time.Time `json:"server_time"`
	ClientCount int       `json:"client_count"`
}
