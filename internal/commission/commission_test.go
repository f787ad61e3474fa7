package commission

import (
	"testing"

	"leboy/internal/domain"
)

func TestComputeFormula(t *testing.T) {
	cfg := domain.CommissionConfig{
		Category:      "demarches",
		BasePercent:   10,
		MinCommission: 5000,
		MaxCommission: 50000,
		RiskPercent:   2,
		Enabled:       true,
	}
	got, err := Compute(cfg, 200000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// base = 20000 (within [5000,50000]), risk = 4000
	if got != 24000 {
		t.Fatalf("expected 24000, got %d", got)
	}
}

func TestComputeClamps(t *testing.T) {
	cfg := domain.CommissionConfig{BasePercent: 10, MinCommission: 5000, MaxCommission: 50000, RiskPercent: 0}
	low, err := Compute(cfg, 10000) // 10% = 1000 -> clamped up to 5000
	if err != nil {
		t.Fatal(err)
	}
	if low != 5000 {
		t.Fatalf("expected min clamp 5000, got %d", low)
	}
	high, err := Compute(cfg, 2000000) // 10% = 200000 -> clamped down to 50000
	if err != nil {
		t.Fatal(err)
	}
	if high != 50000 {
		t.Fatalf("expected max clamp 50000, got %d", high)
	}
}

func TestComputeRiskNotClamped(t *testing.T) {
	cfg := domain.CommissionConfig{BasePercent: 10, MinCommission: 0, MaxCommission: 1000, RiskPercent: 5}
	got, err := Compute(cfg, 100000)
	if err != nil {
		t.Fatal(err)
	}
	// base 10000 clamped to 1000; risk 5000 added on top, unclamped
	if got != 6000 {
		t.Fatalf("expected 6000, got %d", got)
	}
}

func TestComputeNonPositivePrice(t *testing.T) {
	cfg := domain.CommissionConfig{BasePercent: 10, MinCommission: 5000, MaxCommission: 50000}
	for _, price := range []int64{0, -100} {
		got, err := Compute(cfg, price)
		if err != nil {
			t.Fatal(err)
		}
		if got != 0 {
			t.Fatalf("price %d: expected 0, got %d", price, got)
		}
	}
}

func TestComputeRounding(t *testing.T) {
	cfg := domain.CommissionConfig{BasePercent: 3, MinCommission: 0, MaxCommission: 1000000, RiskPercent: 0}
	got, err := Compute(cfg, 16683) // 3% = 500.49 -> 500
	if err != nil {
		t.Fatal(err)
	}
	if got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
	got, err = Compute(cfg, 16684) // 3% = 500.52 -> 501
	if err != nil {
		t.Fatal(err)
	}
	if got != 501 {
		t.Fatalf("expected 501, got %d", got)
	}
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	bad := []domain.CommissionConfig{
		{BasePercent: -1, MaxCommission: 10},
		{BasePercent: 101, MaxCommission: 10},
		{RiskPercent: 120, MaxCommission: 10},
		{MinCommission: 100, MaxCommission: 10},
		{MinCommission: -5, MaxCommission: 10},
	}
	for i, cfg := range bad {
		if _, err := Compute(cfg, 1000); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
