package usage

import (
	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/amoylab/agent-gateway/pkg/protocol"
)

// defaultPriceKey names the price used for models without their own entry
const defaultPriceKey = "default"

// Pricer converts token counts into cost using per-million-token prices
type Pricer struct {
	prices map[string]config.ModelPrice
}

func NewPricer(prices map[string]config.ModelPrice) *Pricer {
	if prices == nil {
		prices = map[string]config.ModelPrice{}
	}
	return &Pricer{prices: prices}
}

// Cost returns the cost of u for model. Unknown models use the "default" entry, or cost nothing.
func (p *Pricer) Cost(model string, u protocol.Usage) float64 {
	price, ok := p.prices[model]
	if !ok {
		price = p.prices[defaultPriceKey]
	}
	return (float64(u.PromptTokens)*price.Input + float64(u.CompletionTokens)*price.Output) / 1_000_000
}
