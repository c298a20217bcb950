package pricing

import (
	"math"
	"testing"

	"github.com/agentwarden/gateway/internal/types"
)

func TestEstimateCost_GPT4TokenBased(t *testing.T) {
	// gpt-4: $30/M input, $60/M output -> $0.03/1K input, $0.06/1K output
	// 1000 input tokens = 1 * 0.03 = 0.03
	// 500 output tokens = 0.5 * 0.06 = 0.03
	// base = 0.06, fee 5% = 0.003, total = 0.063
	e := NewEngine(NewTable(0), 5.0)
	est := e.EstimateCost("openai", "gpt-4", EstimateCostInput{InputTokens: 1000, OutputTokens: 500})

	if math.Abs(est.BaseCost-0.06) > 1e-9 {
		t.Errorf("BaseCost = %f, want 0.06", est.BaseCost)
	}
	if math.Abs(est.TotalCost-0.063) > 1e-9 {
		t.Errorf("TotalCost = %f, want 0.063", est.TotalCost)
	}
}

func TestEstimateCost_DefaultsOutputToHalfInput(t *testing.T) {
	e := NewEngine(NewTable(0), 5.0)
	est := e.EstimateCost("openai", "gpt-3.5-turbo", EstimateCostInput{InputTokens: 1000})
	if est.OutputTokens != 500 {
		t.Errorf("OutputTokens = %d, want 500", est.OutputTokens)
	}
}

func TestEstimateCost_UnknownModelFallback(t *testing.T) {
	e := NewEngine(NewTable(0), 5.0)
	p := e.Pricing("unknown", "unknown-model-xyz")
	if p.InputRatePer1K != 1.00 || p.OutputRatePer1K != 3.00 {
		t.Errorf("fallback pricing = %+v, want {1.00 3.00}", p)
	}
}

func TestEstimateTokens_CharCountFallback(t *testing.T) {
	// 40 chars -> ceil(40/4)=10 * 1.1 = 11
	est := EstimateTokens("0123456789012345678901234567890123456789")
	if est.Tokens != 11 {
		t.Errorf("Tokens = %d, want 11", est.Tokens)
	}
	if est.Confidence != 0.8 || est.Method != "char_count" {
		t.Errorf("got confidence=%f method=%s, want 0.8/char_count", est.Confidence, est.Method)
	}
}

func TestDetectAnomaly_BelowThresholdIsNil(t *testing.T) {
	if a := DetectAnomaly("req1", "openai", "gpt-4", 1.00, 1.10, 20.0); a != nil {
		t.Errorf("expected nil, got %+v", a)
	}
}

func TestDetectAnomaly_Severity(t *testing.T) {
	tests := []struct {
		name     string
		actual   float64
		wantSev  types.AnomalySeverity
	}{
		{"medium at 50pct", 1.50, types.AnomalyMedium},
		{"high at 100pct", 2.00, types.AnomalyHigh},
		{"critical at 200pct", 3.00, types.AnomalyCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DetectAnomaly("req1", "openai", "gpt-4", 1.00, tt.actual, 20.0)
			if a == nil {
				t.Fatal("expected anomaly, got nil")
			}
			if a.Severity != tt.wantSev {
				t.Errorf("Severity = %s, want %s", a.Severity, tt.wantSev)
			}
		})
	}
}

func TestCompare_SortsAscending(t *testing.T) {
	e := NewEngine(NewTable(0), 5.0)
	quotes := e.Compare([]ProviderModel{
		{Provider: "openai", Model: "gpt-4"},
		{Provider: "openai", Model: "gpt-4o-mini"},
	}, 1000, 500)

	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2", len(quotes))
	}
	if quotes[0].Model != "gpt-4o-mini" {
		t.Errorf("cheapest quote = %s, want gpt-4o-mini", quotes[0].Model)
	}
	if quotes[0].TotalCost > quotes[1].TotalCost {
		t.Errorf("quotes not sorted ascending: %+v", quotes)
	}
}
