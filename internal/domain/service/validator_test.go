package service

import (
	"strings"
	"testing"
	"time"

	"pmexec/internal/domain/model"
)

func validSignal() *model.Signal {
	return &model.Signal{
		ID:           "sig-1",
		Source:       "speed_arb",
		Ticker:       "INXD-23DEC29-T4700",
		Side:         model.SideYes,
		Confidence:   0.8,
		Edge:         0.06,
		CurrentPrice: 0.50,
		FairValue:    0.56,
		CreatedAt:    time.Now(),
	}
}

func TestValidateSignalAccepts(t *testing.T) {
	cfg := ValidatorConfig{MinConfidence: 0.6, MinEdge: 0.05}
	dedup := NewSignalDeduplicator(100, time.Hour)

	ok, reason := ValidateSignal(validSignal(), cfg, dedup)
	if !ok {
		t.Fatalf("expected accept, got rejection: %s", reason)
	}
}

func TestValidateSignalRejectsDuplicate(t *testing.T) {
	cfg := ValidatorConfig{MinConfidence: 0.6, MinEdge: 0.05}
	dedup := NewSignalDeduplicator(100, time.Hour)
	dedup.Mark("sig-1")

	ok, reason := ValidateSignal(validSignal(), cfg, dedup)
	if ok {
		t.Fatal("duplicate signal should be rejected")
	}
	if reason != "duplicate signal" {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestValidateSignalChecks(t *testing.T) {
	cfg := ValidatorConfig{MinConfidence: 0.6, MinEdge: 0.05}

	cases := []struct {
		name   string
		mutate func(*model.Signal)
		want   string
	}{
		{"low confidence", func(s *model.Signal) { s.Confidence = 0.3 }, "confidence"},
		{"low edge", func(s *model.Signal) { s.Edge = 0.01 }, "edge"},
		{"price too low", func(s *model.Signal) { s.CurrentPrice = 0.005 }, "invalid price"},
		{"price too high", func(s *model.Signal) { s.CurrentPrice = 1.5 }, "invalid price"},
		{"bad side", func(s *model.Signal) { s.Side = "maybe" }, "invalid side"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := validSignal()
			tc.mutate(sig)

			ok, reason := ValidateSignal(sig, cfg, nil)
			if ok {
				t.Fatal("expected rejection")
			}
			if !strings.Contains(reason, tc.want) {
				t.Errorf("reason %q does not mention %q", reason, tc.want)
			}
		})
	}
}

func TestValidateSignalZeroPriceAllowed(t *testing.T) {
	// A missing current price is not a validation failure; the sizer
	// falls back to 50c.
	sig := validSignal()
	sig.CurrentPrice = 0

	ok, reason := ValidateSignal(sig, ValidatorConfig{MinConfidence: 0.6, MinEdge: 0.05}, nil)
	if !ok {
		t.Fatalf("zero price should pass validation, got: %s", reason)
	}
}

func TestValidateOrder(t *testing.T) {
	cases := []struct {
		name     string
		ticker   string
		side     model.Side
		quantity int
		price    int
		wantOK   bool
	}{
		{"valid", "TICKER", model.SideYes, 10, 50, true},
		{"empty ticker", "", model.SideYes, 10, 50, false},
		{"bad side", "TICKER", "short", 10, 50, false},
		{"zero quantity", "TICKER", model.SideNo, 0, 50, false},
		{"price floor", "TICKER", model.SideYes, 1, 0, false},
		{"price ceiling", "TICKER", model.SideYes, 1, 100, false},
		{"price edges ok", "TICKER", model.SideYes, 1, 99, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := ValidateOrder(tc.ticker, tc.side, tc.quantity, tc.price)
			if ok != tc.wantOK {
				t.Errorf("got ok=%v (%s), want %v", ok, reason, tc.wantOK)
			}
		})
	}
}
