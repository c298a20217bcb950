// Package pricing converts token/char/request/time usage into a USD
// cost estimate, detects estimate-vs-actual anomalies, and compares
// quotes across providers.
package pricing

import (
	"sync"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

// Table is an in-memory, TTL-respecting pricing lookup. It is seeded
// with a default table (modeled on the teacher's DefaultPricingTable)
// and may be refreshed by a store fetch.
type Table struct {
	mu    sync.RWMutex
	byKey map[string]types.Pricing
	ttl   time.Duration
}

func key(provider, model string) string { return provider + "/" + model }

// NewTable returns a Table seeded with well-known provider/model
// token-based pricing and a default fallback for anything else.
func NewTable(ttl time.Duration) *Table {
	t := &Table{byKey: make(map[string]types.Pricing), ttl: ttl}
	for k, p := range defaultTokenPricing {
		t.byKey[k] = p
	}
	return t
}

// Put inserts or refreshes pricing for one provider/model.
func (t *Table) Put(p types.Pricing) {
	p.FetchedAt = time.Now().UTC()
	t.mu.Lock()
	t.byKey[key(p.Provider, p.Model)] = p
	t.mu.Unlock()
}

// Get returns pricing for (provider, model), falling back to a
// moderate token-based default when unknown or stale beyond ttl.
func (t *Table) Get(provider, model string) types.Pricing {
	t.mu.RLock()
	p, ok := t.byKey[key(provider, model)]
	t.mu.RUnlock()

	if !ok || (t.ttl > 0 && time.Since(p.FetchedAt) > t.ttl && !p.FetchedAt.IsZero()) {
		return types.Pricing{
			Provider:        provider,
			Model:           model,
			Mode:            types.PricingTokenBased,
			InputRatePer1K:  1.00,
			OutputRatePer1K: 3.00,
			FetchedAt:       time.Now().UTC(),
		}
	}
	return p
}

var defaultTokenPricing = map[string]types.Pricing{
	key("openai", "gpt-4o"):         tokenPrice("openai", "gpt-4o", 2.50, 10.00),
	key("openai", "gpt-4o-mini"):    tokenPrice("openai", "gpt-4o-mini", 0.15, 0.60),
	key("openai", "gpt-4-turbo"):    tokenPrice("openai", "gpt-4-turbo", 10.00, 30.00),
	key("openai", "gpt-4"):          tokenPrice("openai", "gpt-4", 30.00, 60.00),
	key("openai", "gpt-3.5-turbo"):  tokenPrice("openai", "gpt-3.5-turbo", 0.50, 1.50),
	key("openai", "o1"):             tokenPrice("openai", "o1", 15.00, 60.00),
	key("openai", "o1-mini"):        tokenPrice("openai", "o1-mini", 3.00, 12.00),
	key("openai", "o3-mini"):        tokenPrice("openai", "o3-mini", 1.10, 4.40),

	key("anthropic", "claude-3-opus"):     tokenPrice("anthropic", "claude-3-opus", 15.00, 75.00),
	key("anthropic", "claude-3-5-sonnet"): tokenPrice("anthropic", "claude-3-5-sonnet", 3.00, 15.00),
	key("anthropic", "claude-3-5-haiku"):  tokenPrice("anthropic", "claude-3-5-haiku", 0.80, 4.00),

	key("google", "gemini-1.5-pro"):   tokenPrice("google", "gemini-1.5-pro", 1.25, 5.00),
	key("google", "gemini-1.5-flash"): tokenPrice("google", "gemini-1.5-flash", 0.075, 0.30),
	key("google", "gemini-2.0-flash"): tokenPrice("google", "gemini-2.0-flash", 0.10, 0.40),

	key("deepseek", "deepseek-chat"):     tokenPrice("deepseek", "deepseek-chat", 0.14, 0.28),
	key("deepseek", "deepseek-reasoner"): tokenPrice("deepseek", "deepseek-reasoner", 0.55, 2.19),
}

func tokenPrice(provider, model string, in, out float64) types.Pricing {
	return types.Pricing{
		Provider:        provider,
		Model:           model,
		Mode:            types.PricingTokenBased,
		InputRatePer1K:  in / 1000, // table stores $/M token, rate is $/1K token
		OutputRatePer1K: out / 1000,
	}
}
