package ai

import (
	"strings"
	"sync"
)

// Usage holds token counts from one completed response.
type Usage struct {
	InputTextTokens   int
	InputAudioTokens  int
	OutputTextTokens  int
	OutputAudioTokens int
}

// modelRates holds USD prices per one million tokens.
type modelRates struct {
	TextIn   float64
	TextOut  float64
	AudioIn  float64
	AudioOut float64
}

// rateTable maps model name prefixes to their pricing. Realtime model
// names carry date suffixes, so lookup is by prefix.
var rateTable = map[string]modelRates{
	"gpt-4o-mini-realtime": {TextIn: 0.60, TextOut: 2.40, AudioIn: 10, AudioOut: 20},
	"gpt-4o-realtime":      {TextIn: 4, TextOut: 16, AudioIn: 32, AudioOut: 64},
}

// ratesFor returns the pricing for a model, defaulting to the premium
// rates for unknown names so costs are never underestimated.
func ratesFor(model string) modelRates {
	if strings.HasPrefix(model, "gpt-4o-mini-realtime") {
		return rateTable["gpt-4o-mini-realtime"]
	}
	return rateTable["gpt-4o-realtime"]
}

// CostCents prices one usage snapshot for a model, in cents.
func CostCents(model string, u Usage) float64 {
	rates := ratesFor(model)
	usd := float64(u.InputTextTokens)*rates.TextIn +
		float64(u.OutputTextTokens)*rates.TextOut +
		float64(u.InputAudioTokens)*rates.AudioIn +
		float64(u.OutputAudioTokens)*rates.AudioOut
	return usd / 1_000_000 * 100
}

// CostTracker accumulates call cost across responses and model switches.
type CostTracker struct {
	mu    sync.Mutex
	cents float64
}

// Add prices a completed response under the model that produced it.
func (t *CostTracker) Add(model string, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cents += CostCents(model, u)
}

// Cents returns the accumulated cost in cents.
func (t *CostTracker) Cents() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cents
}
