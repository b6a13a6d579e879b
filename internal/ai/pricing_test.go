package ai

import (
	"math"
	"testing"
)

func TestCostCentsMini(t *testing.T) {
	u := Usage{
		InputTextTokens:   1_000_000,
		OutputTextTokens:  1_000_000,
		InputAudioTokens:  1_000_000,
		OutputAudioTokens: 1_000_000,
	}
	// 0.60 + 2.40 + 10 + 20 USD = 33 USD = 3300 cents.
	got := CostCents("gpt-4o-mini-realtime-preview-2024-12-17", u)
	if math.Abs(got-3300) > 0.001 {
		t.Errorf("CostCents(mini) = %f, want 3300", got)
	}
}

func TestCostCentsPremium(t *testing.T) {
	u := Usage{InputAudioTokens: 500_000}
	// 0.5M audio-in at 32 USD/1M = 16 USD = 1600 cents.
	got := CostCents("gpt-4o-realtime-preview", u)
	if math.Abs(got-1600) > 0.001 {
		t.Errorf("CostCents(premium) = %f, want 1600", got)
	}
}

func TestCostCentsUnknownModelUsesPremiumRates(t *testing.T) {
	u := Usage{OutputAudioTokens: 1_000_000}
	if got := CostCents("some-future-model", u); math.Abs(got-6400) > 0.001 {
		t.Errorf("CostCents(unknown) = %f, want 6400", got)
	}
}

func TestCostTrackerAccumulatesAcrossModels(t *testing.T) {
	var tracker CostTracker
	tracker.Add("gpt-4o-mini-realtime", Usage{InputTextTokens: 1_000_000})
	tracker.Add("gpt-4o-realtime", Usage{InputTextTokens: 1_000_000})

	// 0.60 USD + 4 USD = 460 cents.
	if got := tracker.Cents(); math.Abs(got-460) > 0.001 {
		t.Errorf("Cents() = %f, want 460", got)
	}
}
