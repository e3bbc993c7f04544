package payment

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestConverterUSDToCNY(t *testing.T) {
	c := NewConverter(nil)

	got, err := c.Convert(decimal.NewFromInt(100), "USD", "CNY")
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if got.StringFixed(2) != "720.00" {
		t.Errorf("expected 720.00, got %s", got.StringFixed(2))
	}
}

func TestConverterInverseRate(t *testing.T) {
	c := NewConverter(nil)

	got, err := c.Convert(decimal.NewFromInt(72), "CNY", "USD")
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if got.StringFixed(2) != "10.00" {
		t.Errorf("expected 10.00, got %s", got.StringFixed(2))
	}
}

func TestConverterSameCurrency(t *testing.T) {
	c := NewConverter(nil)

	amount := decimal.RequireFromString("19.99")
	got, err := c.Convert(amount, "USD", "USD")
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if !got.Equal(amount) {
		t.Errorf("expected %s unchanged, got %s", amount, got)
	}
}

func TestConverterUnknownPair(t *testing.T) {
	c := NewConverter(nil)

	if _, err := c.Convert(decimal.NewFromInt(10), "USD", "GBP"); err == nil {
		t.Fatal("expected error for unconfigured pair")
	}
}

func TestPrepareOrderNormalizesWithoutMutating(t *testing.T) {
	core := NewCore(nil)
	order := PaymentOrder{
		Amount:      decimal.NewFromInt(100),
		Currency:    "USD",
		Description: "pro plan",
		UserID:      "user-1",
		Metadata:    map[string]string{"tier": "pro"},
	}

	prepared, err := core.PrepareOrder("wechat", order, "CNY")
	if err != nil {
		t.Fatalf("PrepareOrder returned error: %v", err)
	}
	if prepared.Amount.StringFixed(2) != "720.00" || prepared.Currency != "CNY" {
		t.Errorf("expected 720.00 CNY, got %s %s", prepared.Amount.StringFixed(2), prepared.Currency)
	}
	if !order.Amount.Equal(decimal.NewFromInt(100)) || order.Currency != "USD" {
		t.Errorf("original order mutated: %s %s", order.Amount, order.Currency)
	}

	prepared.Metadata["tier"] = "changed"
	if order.Metadata["tier"] != "pro" {
		t.Error("metadata map is shared between original and prepared order")
	}
}

func TestPrepareOrderEmptySettlementKeepsCurrency(t *testing.T) {
	core := NewCore(nil)
	order := PaymentOrder{
		Amount:      decimal.RequireFromString("9.99"),
		Currency:    "EUR",
		Description: "one-time",
		UserID:      "user-2",
	}

	prepared, err := core.PrepareOrder("paypal", order, "")
	if err != nil {
		t.Fatalf("PrepareOrder returned error: %v", err)
	}
	if prepared.Currency != "EUR" || !prepared.Amount.Equal(order.Amount) {
		t.Errorf("expected order passed through unchanged, got %s %s", prepared.Amount, prepared.Currency)
	}
}

func TestPrepareOrderRejectsInvalidOrders(t *testing.T) {
	core := NewCore(nil)

	cases := []struct {
		name  string
		order PaymentOrder
	}{
		{"zero amount", PaymentOrder{Currency: "USD", Description: "d", UserID: "u"}},
		{"negative amount", PaymentOrder{Amount: decimal.NewFromInt(-5), Currency: "USD", Description: "d", UserID: "u"}},
		{"missing currency", PaymentOrder{Amount: decimal.NewFromInt(5), Description: "d", UserID: "u"}},
		{"missing description", PaymentOrder{Amount: decimal.NewFromInt(5), Currency: "USD", UserID: "u"}},
		{"missing user", PaymentOrder{Amount: decimal.NewFromInt(5), Currency: "USD", Description: "d"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := core.PrepareOrder("stripe", tc.order, "")
			if err == nil {
				t.Fatal("expected validation error")
			}
			var provErr *ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("expected *ProviderError, got %T", err)
			}
			if provErr.Code != CodeValidationFailed {
				t.Errorf("expected code %s, got %s", CodeValidationFailed, provErr.Code)
			}
		})
	}
}

func TestNewReferenceFormat(t *testing.T) {
	core := NewCore(nil)

	ref := core.NewReference()
	if !strings.HasPrefix(ref, "PAY") {
		t.Errorf("expected PAY prefix, got %q", ref)
	}
	if len(ref) < len("PAY")+8 {
		t.Errorf("reference too short: %q", ref)
	}
	if ref == core.NewReference() {
		t.Error("consecutive references must differ")
	}
}
