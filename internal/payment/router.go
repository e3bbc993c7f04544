package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/logger"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// Router dispatches payment attempts to registered providers in the
// region's policy order, returning the first success or an aggregate
// failure. The registry is keyed by the closed Method set.
// FallbackFunc observes routing moving past a failed method to the
// next one in policy order.
type FallbackFunc func(reference string, from, to policy.Method)

type Router struct {
	providers  map[policy.Method]Provider
	records    RecordRepository
	onFallback FallbackFunc
	log        *logger.Logger
}

// NewRouter creates a router. records may be nil when the caller does
// not track payment records.
func NewRouter(records RecordRepository, log *logger.Logger) *Router {
	if log == nil {
		log = logger.New("payment-router")
	}
	return &Router{
		providers: make(map[policy.Method]Provider),
		records:   records,
		log:       log,
	}
}

// Register adds a provider for its method. Registering the same method
// twice is a wiring mistake and fails.
func (r *Router) Register(p Provider) error {
	method := p.Method()
	if _, exists := r.providers[method]; exists {
		return fmt.Errorf("provider already registered for method %s", method)
	}
	r.providers[method] = p
	return nil
}

// OnFallback registers an observer for fallback transitions. Set it
// during wiring, before the router serves requests.
func (r *Router) OnFallback(fn FallbackFunc) {
	r.onFallback = fn
}

// Provider returns the registered provider for a method.
func (r *Router) Provider(method policy.Method) (Provider, bool) {
	p, ok := r.providers[method]
	return p, ok
}

// AvailableMethods returns the region's method preference filtered to
// registered providers. EUROPE yields an empty list.
func (r *Router) AvailableMethods(region policy.Region) []policy.Method {
	methods := policy.MethodsFor(region)
	available := make([]policy.Method, 0, len(methods))
	for _, method := range methods {
		if _, ok := r.providers[method]; ok {
			available = append(available, method)
		}
	}
	return available
}

// CreatePayment tries each allowed method for the region in policy
// order and returns the first successful result. A provider error or
// panic counts as a failure for that method only; routing continues.
// Exhaustion, including the empty EUROPE list, yields a failure
// result; an empty method list guarantees zero provider invocations.
func (r *Router) CreatePayment(ctx context.Context, region policy.Region, order PaymentOrder) *PaymentResult {
	methods := policy.MethodsFor(region)

	record := r.createPendingRecord(ctx, order)

	var lastFailed policy.Method
	for _, method := range methods {
		provider, ok := r.providers[method]
		if !ok {
			r.log.Warn("no provider registered for method", "method", string(method))
			continue
		}

		if lastFailed != "" {
			r.notifyFallback(record, lastFailed, method)
		}

		result, err := r.attempt(ctx, provider, order)
		if err != nil {
			r.log.Warn("payment method failed, trying next",
				"method", string(method),
				"region", string(region),
				"error", err.Error(),
			)
			lastFailed = method
			continue
		}
		if result == nil || !result.Success {
			errMsg := ""
			if result != nil {
				errMsg = result.ErrorMessage
			}
			r.log.Warn("payment method rejected, trying next",
				"method", string(method),
				"error", errMsg,
			)
			lastFailed = method
			continue
		}

		result.Method = method
		if record != nil {
			result.Reference = record.ID
			r.attachExternalID(ctx, record.ID, result.ExternalID)
		}
		r.log.Info("payment created",
			"method", string(method),
			"region", string(region),
			"external_id", result.ExternalID,
		)
		return result
	}

	if record != nil {
		r.failRecord(ctx, record.ID)
	}
	message := fmt.Sprintf("no available payment method for region %s", region)
	r.log.Warn("payment routing exhausted", "region", string(region), "methods", len(methods))
	return failureResult("", CodeNoAvailableMethod, message)
}

func (r *Router) notifyFallback(record *Record, from, to policy.Method) {
	if r.onFallback == nil {
		return
	}
	reference := ""
	if record != nil {
		reference = record.ID
	}
	r.onFallback(reference, from, to)
}

// attempt invokes a provider, converting panics into errors so a
// misbehaving provider cannot abort the whole request.
func (r *Router) attempt(ctx context.Context, provider Provider, order PaymentOrder) (result *PaymentResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("provider %s panicked: %v", provider.Method(), rec)
		}
	}()
	return provider.CreatePayment(ctx, order)
}

// createPendingRecord persists the pending record before any provider
// call. Record-keeping failures are logged, never fatal to routing.
func (r *Router) createPendingRecord(ctx context.Context, order PaymentOrder) *Record {
	if r.records == nil {
		return nil
	}
	record := &Record{
		ID:               uuid.New().String(),
		UserID:           order.UserID,
		Amount:           order.Amount,
		Currency:         order.Currency,
		OriginalAmount:   order.Amount,
		OriginalCurrency: order.Currency,
		Status:           StatusPending,
	}
	if err := r.records.Save(ctx, record); err != nil {
		r.log.Error("failed to save pending payment record", "error", err.Error())
		return nil
	}
	return record
}

func (r *Router) attachExternalID(ctx context.Context, recordID, externalID string) {
	if externalID == "" {
		return
	}
	if err := r.records.AttachExternalID(ctx, recordID, externalID); err != nil {
		r.log.Error("failed to attach external id", "record", recordID, "error", err.Error())
	}
}

func (r *Router) failRecord(ctx context.Context, recordID string) {
	if err := r.records.UpdateStatus(ctx, recordID, StatusFailed); err != nil {
		r.log.Error("failed to mark payment record failed", "record", recordID, "error", err.Error())
	}
}
