package payments

import "mcpnostr/internal/config"

// Resolver answers pricing questions for the server transport's discovery
// announcer and its payment_required notification builder, per SPEC_FULL.md
// §4.8.
type Resolver struct {
	prices map[string]config.CapabilityPrice
}

// NewResolver indexes the configured capability_pricing list by capability
// id.
func NewResolver(prices []config.CapabilityPrice) *Resolver {
	index := make(map[string]config.CapabilityPrice, len(prices))
	for _, p := range prices {
		index[p.CapabilityID] = p
	}
	return &Resolver{prices: index}
}

// Quote looks up the configured price and currency for a capability.
func (r *Resolver) Quote(capabilityID string) (price, currency string, ok bool) {
	p, ok := r.prices[capabilityID]
	if !ok {
		return "", "", false
	}
	return p.Price, p.Currency, true
}

// All returns every configured capability price, for the discovery
// announcer to render as cap tags.
func (r *Resolver) All() []config.CapabilityPrice {
	out := make([]config.CapabilityPrice, 0, len(r.prices))
	for _, p := range r.prices {
		out = append(out, p)
	}
	return out
}

// LightningAddress returns the configured lightning address for a priced
// capability, if any; when absent the price string itself is used verbatim
// as the tag value (e.g. a flat "21 sats" display price with no live
// invoicing).
func (r *Resolver) LightningAddress(capabilityID string) (string, bool) {
	p, ok := r.prices[capabilityID]
	if !ok || p.LightningAddress == "" {
		return "", false
	}
	return p.LightningAddress, true
}
