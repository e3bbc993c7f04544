// Package events broadcasts routing and payment lifecycle events to
// WebSocket subscribers.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
	ws "github.com/yuxuanzhouo3/mvp-28-sub000/internal/websocket"
)

// Emitter fans out lifecycle events to WebSocket clients. A nil hub
// disables emission, so callers never need to guard.
type Emitter struct {
	hub *ws.Hub
}

// NewEmitter creates an emitter bound to a hub. hub may be nil.
func NewEmitter(hub *ws.Hub) *Emitter {
	return &Emitter{hub: hub}
}

// EmitPaymentInitiated signals that a payment attempt has started.
func (e *Emitter) EmitPaymentInitiated(reference, userID string, amount decimal.Decimal, currency string, region policy.Region) {
	if e.hub == nil {
		return
	}

	e.hub.BroadcastEvent(ws.TypePayment, ws.EventPaymentInitiated, ws.PaymentData{
		Reference: reference,
		UserID:    userID,
		Amount:    amount.StringFixed(2),
		Currency:  currency,
		Region:    string(region),
		Status:    "initiated",
	})
}

// EmitPaymentSucceeded signals a successful provider round-trip.
func (e *Emitter) EmitPaymentSucceeded(reference, externalID string, amount decimal.Decimal, currency string, method policy.Method, duration time.Duration) {
	if e.hub == nil {
		return
	}

	e.hub.BroadcastEvent(ws.TypePayment, ws.EventPaymentSucceeded, ws.PaymentData{
		Reference:  reference,
		ExternalID: externalID,
		Amount:     amount.StringFixed(2),
		Currency:   currency,
		Method:     string(method),
		Status:     "succeeded",
		Duration:   duration.String(),
	})
}

// EmitPaymentFailed signals that routing exhausted every method.
func (e *Emitter) EmitPaymentFailed(reference string, amount decimal.Decimal, currency string, region policy.Region, errorCode, errorMessage string) {
	if e.hub == nil {
		return
	}

	e.hub.BroadcastEvent(ws.TypePayment, ws.EventPaymentFailed, ws.PaymentData{
		Reference:    reference,
		Amount:       amount.StringFixed(2),
		Currency:     currency,
		Region:       string(region),
		Status:       "failed",
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	})
}

// EmitFallbackTriggered signals that routing moved past a failed
// method to the next one in policy order.
func (e *Emitter) EmitFallbackTriggered(reference string, from, to policy.Method) {
	if e.hub == nil {
		return
	}

	e.hub.BroadcastEvent(ws.TypePayment, ws.EventFallbackTriggered, ws.PaymentData{
		Reference:      reference,
		Method:         string(to),
		PreviousMethod: string(from),
		Status:         "fallback",
	})
}

// EmitRefundProcessed signals a refund outcome.
func (e *Emitter) EmitRefundProcessed(externalID string, amount decimal.Decimal, method policy.Method, success bool) {
	if e.hub == nil {
		return
	}

	status := "refunded"
	if !success {
		status = "refund_failed"
	}
	e.hub.BroadcastEvent(ws.TypePayment, ws.EventRefundProcessed, ws.PaymentData{
		ExternalID: externalID,
		Amount:     amount.StringFixed(2),
		Method:     string(method),
		Status:     status,
	})
}

// EmitRegionResolved signals a completed region resolution.
func (e *Emitter) EmitRegionResolved(address string, region policy.Region, cacheHit, defaulted bool) {
	if e.hub == nil {
		return
	}

	event := ws.EventRegionResolved
	if defaulted {
		event = ws.EventRegionDefaulted
	}
	e.hub.BroadcastEvent(ws.TypeRouting, event, ws.RoutingData{
		Address:   address,
		Region:    string(region),
		CacheHit:  cacheHit,
		Defaulted: defaulted,
	})
}

// EmitSourceHealth signals an upstream health transition.
func (e *Emitter) EmitSourceHealth(service string, healthy bool, errorCount int64) {
	if e.hub == nil {
		return
	}

	event := ws.EventSourceHealthy
	status := "healthy"
	if !healthy {
		event = ws.EventSourceUnhealthy
		status = "unhealthy"
	}
	e.hub.BroadcastEvent(ws.TypeHealth, event, ws.SourceHealthData{
		Service:    service,
		Status:     status,
		ErrorCount: errorCount,
	})
}
