package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

type stubProvider struct {
	method policy.Method
	result *PaymentResult
	err    error
	panics bool
	calls  int
}

func (s *stubProvider) Method() policy.Method      { return s.method }
func (s *stubProvider) SettlementCurrency() string { return "" }

func (s *stubProvider) CreatePayment(ctx context.Context, order PaymentOrder) (*PaymentResult, error) {
	s.calls++
	if s.panics {
		panic("provider exploded")
	}
	return s.result, s.err
}

func (s *stubProvider) ConfirmPayment(ctx context.Context, externalID string) (*PaymentConfirmation, error) {
	return &PaymentConfirmation{ExternalID: externalID}, nil
}

func (s *stubProvider) RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal) (*RefundResult, error) {
	return &RefundResult{Success: true, ExternalID: externalID, Amount: amount}, nil
}

func (s *stubProvider) VerifyCallback(ctx context.Context, cb Callback) error { return nil }

type memoryRecords struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{records: make(map[string]*Record)}
}

func (m *memoryRecords) Save(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *record
	m.records[record.ID] = &copied
	return nil
}

func (m *memoryRecords) FindByID(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

func (m *memoryRecords) FindByExternalID(ctx context.Context, externalID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.ExternalID == externalID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *memoryRecords) FindByUser(ctx context.Context, userID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, record := range m.records {
		if record.UserID == userID {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (m *memoryRecords) UpdateStatus(ctx context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if !ValidTransition(record.Status, status) {
		return ErrInvalidTransition
	}
	record.Status = status
	return nil
}

func (m *memoryRecords) AttachExternalID(ctx context.Context, id, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	record.ExternalID = externalID
	return nil
}

func validOrder() PaymentOrder {
	return PaymentOrder{
		Amount:      decimal.NewFromInt(10),
		Currency:    "USD",
		Description: "pro plan",
		UserID:      "user-1",
	}
}

func TestRouterFirstSuccessWins(t *testing.T) {
	router := NewRouter(nil, nil)
	stripe := &stubProvider{method: policy.MethodStripe, result: &PaymentResult{Success: true, ExternalID: "cs_1"}}
	paypal := &stubProvider{method: policy.MethodPaypal, result: &PaymentResult{Success: true, ExternalID: "pp_1"}}
	if err := router.Register(stripe); err != nil {
		t.Fatal(err)
	}
	if err := router.Register(paypal); err != nil {
		t.Fatal(err)
	}

	result := router.CreatePayment(context.Background(), policy.RegionUSA, validOrder())
	if !result.Success {
		t.Fatalf("expected success, got %s: %s", result.ErrorCode, result.ErrorMessage)
	}
	if result.Method != policy.MethodStripe {
		t.Errorf("expected stripe to win, got %s", result.Method)
	}
	if paypal.calls != 0 {
		t.Errorf("paypal should not have been invoked, got %d calls", paypal.calls)
	}
}

func TestRouterFallsBackPastFailures(t *testing.T) {
	router := NewRouter(nil, nil)
	stripe := &stubProvider{
		method: policy.MethodStripe,
		err:    &ProviderError{Provider: "stripe", Code: CodeNetworkError, Message: "down"},
	}
	paypal := &stubProvider{method: policy.MethodPaypal, result: &PaymentResult{Success: true, ExternalID: "pp_1"}}
	router.Register(stripe)
	router.Register(paypal)

	result := router.CreatePayment(context.Background(), policy.RegionUSA, validOrder())
	if !result.Success {
		t.Fatalf("expected fallback success, got %s", result.ErrorMessage)
	}
	if result.Method != policy.MethodPaypal {
		t.Errorf("expected paypal after stripe failure, got %s", result.Method)
	}
	if stripe.calls != 1 || paypal.calls != 1 {
		t.Errorf("expected one call each, got stripe=%d paypal=%d", stripe.calls, paypal.calls)
	}
}

func TestRouterNotifiesFallbackTransitions(t *testing.T) {
	records := newMemoryRecords()
	router := NewRouter(records, nil)
	stripe := &stubProvider{
		method: policy.MethodStripe,
		err:    &ProviderError{Provider: "stripe", Code: CodeNetworkError, Message: "down"},
	}
	paypal := &stubProvider{method: policy.MethodPaypal, result: &PaymentResult{Success: true, ExternalID: "pp_1"}}
	router.Register(stripe)
	router.Register(paypal)

	type transition struct {
		reference string
		from, to  policy.Method
	}
	var transitions []transition
	router.OnFallback(func(reference string, from, to policy.Method) {
		transitions = append(transitions, transition{reference, from, to})
	})

	result := router.CreatePayment(context.Background(), policy.RegionUSA, validOrder())
	if !result.Success {
		t.Fatalf("expected fallback success, got %s", result.ErrorMessage)
	}
	if len(transitions) != 1 {
		t.Fatalf("expected one fallback notification, got %d", len(transitions))
	}
	if transitions[0].from != policy.MethodStripe || transitions[0].to != policy.MethodPaypal {
		t.Errorf("unexpected transition %+v", transitions[0])
	}
	if transitions[0].reference != result.Reference {
		t.Errorf("expected notification to carry record reference %q, got %q", result.Reference, transitions[0].reference)
	}
}

func TestRouterNoFallbackNotificationOnFirstSuccess(t *testing.T) {
	router := NewRouter(nil, nil)
	router.Register(&stubProvider{method: policy.MethodStripe, result: &PaymentResult{Success: true}})
	router.Register(&stubProvider{method: policy.MethodPaypal, result: &PaymentResult{Success: true}})

	notified := 0
	router.OnFallback(func(string, policy.Method, policy.Method) { notified++ })

	if result := router.CreatePayment(context.Background(), policy.RegionUSA, validOrder()); !result.Success {
		t.Fatalf("expected success, got %s", result.ErrorMessage)
	}
	if notified != 0 {
		t.Errorf("first-method success must not notify fallback, got %d notifications", notified)
	}
}

func TestRouterSurvivesPanickingProvider(t *testing.T) {
	router := NewRouter(nil, nil)
	stripe := &stubProvider{method: policy.MethodStripe, panics: true}
	paypal := &stubProvider{method: policy.MethodPaypal, result: &PaymentResult{Success: true}}
	router.Register(stripe)
	router.Register(paypal)

	result := router.CreatePayment(context.Background(), policy.RegionUSA, validOrder())
	if !result.Success {
		t.Fatalf("panic should not abort routing, got %s", result.ErrorMessage)
	}
	if result.Method != policy.MethodPaypal {
		t.Errorf("expected paypal, got %s", result.Method)
	}
}

func TestRouterExhaustionReturnsFailure(t *testing.T) {
	router := NewRouter(nil, nil)
	router.Register(&stubProvider{
		method: policy.MethodStripe,
		result: &PaymentResult{Success: false, ErrorMessage: "declined"},
	})
	router.Register(&stubProvider{
		method: policy.MethodPaypal,
		err:    &ProviderError{Provider: "paypal", Code: CodeTimeout, Message: "timeout", Timeout: true},
	})

	result := router.CreatePayment(context.Background(), policy.RegionUSA, validOrder())
	if result.Success {
		t.Fatal("expected failure after exhausting all methods")
	}
	if result.ErrorCode != CodeNoAvailableMethod {
		t.Errorf("expected %s, got %s", CodeNoAvailableMethod, result.ErrorCode)
	}
}

func TestRouterEuropeInvokesNoProviders(t *testing.T) {
	router := NewRouter(nil, nil)
	providers := []*stubProvider{
		{method: policy.MethodAlipay, result: &PaymentResult{Success: true}},
		{method: policy.MethodWechat, result: &PaymentResult{Success: true}},
		{method: policy.MethodStripe, result: &PaymentResult{Success: true}},
		{method: policy.MethodPaypal, result: &PaymentResult{Success: true}},
	}
	for _, p := range providers {
		router.Register(p)
	}

	if methods := router.AvailableMethods(policy.RegionEurope); len(methods) != 0 {
		t.Errorf("expected no available methods for EUROPE, got %v", methods)
	}

	result := router.CreatePayment(context.Background(), policy.RegionEurope, validOrder())
	if result.Success {
		t.Fatal("expected failure for EUROPE")
	}
	for _, p := range providers {
		if p.calls != 0 {
			t.Errorf("provider %s was invoked %d times for EUROPE", p.method, p.calls)
		}
	}
}

func TestRouterChinaPolicyOrder(t *testing.T) {
	router := NewRouter(nil, nil)
	wechat := &stubProvider{
		method: policy.MethodWechat,
		err:    &ProviderError{Provider: "wechat", Code: CodeNetworkError, Message: "down"},
	}
	alipay := &stubProvider{method: policy.MethodAlipay, result: &PaymentResult{Success: true}}
	router.Register(wechat)
	router.Register(alipay)

	result := router.CreatePayment(context.Background(), policy.RegionChina, validOrder())
	if !result.Success || result.Method != policy.MethodAlipay {
		t.Fatalf("expected alipay fallback for CHINA, got method=%s success=%v", result.Method, result.Success)
	}
	if wechat.calls != 1 {
		t.Errorf("wechat should be tried first, got %d calls", wechat.calls)
	}
}

func TestRouterDuplicateRegistration(t *testing.T) {
	router := NewRouter(nil, nil)
	if err := router.Register(&stubProvider{method: policy.MethodStripe}); err != nil {
		t.Fatal(err)
	}
	if err := router.Register(&stubProvider{method: policy.MethodStripe}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRouterRecordLifecycle(t *testing.T) {
	records := newMemoryRecords()
	router := NewRouter(records, nil)
	router.Register(&stubProvider{
		method: policy.MethodStripe,
		result: &PaymentResult{Success: true, ExternalID: "cs_123"},
	})

	result := router.CreatePayment(context.Background(), policy.RegionUSA, validOrder())
	if !result.Success {
		t.Fatalf("expected success, got %s", result.ErrorMessage)
	}
	if result.Reference == "" {
		t.Fatal("expected record id as reference")
	}

	record, err := records.FindByID(context.Background(), result.Reference)
	if err != nil {
		t.Fatalf("record not saved: %v", err)
	}
	if record.Status != StatusPending {
		t.Errorf("expected pending record, got %s", record.Status)
	}
	if record.ExternalID != "cs_123" {
		t.Errorf("expected external id attached, got %q", record.ExternalID)
	}
}

func TestRouterMarksRecordFailedOnExhaustion(t *testing.T) {
	records := newMemoryRecords()
	router := NewRouter(records, nil)
	router.Register(&stubProvider{
		method: policy.MethodStripe,
		err:    &ProviderError{Provider: "stripe", Code: CodeNetworkError, Message: "down"},
	})

	result := router.CreatePayment(context.Background(), policy.RegionUSA, validOrder())
	if result.Success {
		t.Fatal("expected failure")
	}

	all, err := records.FindByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one record, got %d", len(all))
	}
	if all[0].Status != StatusFailed {
		t.Errorf("expected failed record, got %s", all[0].Status)
	}
}
