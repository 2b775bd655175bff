package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteParams describes a desired swap.
type QuoteParams struct {
	InputAsset  string
	OutputAsset string
	Amount      decimal.Decimal
	SlippageBps int
}

// Quote is the normalized shape returned by every quote source.
type Quote struct {
	Source         string          `json:"source"`
	InputAsset     string          `json:"input_asset"`
	OutputAsset    string          `json:"output_asset"`
	InAmount       decimal.Decimal `json:"in_amount"`
	OutAmount      decimal.Decimal `json:"out_amount"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	PriceImpactBps int             `json:"price_impact_bps"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// NetOut is the output amount after the source's own fees.
func (q Quote) NetOut() decimal.Decimal {
	return q.OutAmount.Sub(q.FeeAmount)
}

// BestQuote is the aggregator's answer for a swap request.
type BestQuote struct {
	ID             string          `json:"id"`
	Source         string          `json:"source"`
	Quote          Quote           `json:"quote"`
	NetOutAmount   decimal.Decimal `json:"net_out_amount"`
	MinOutAmount   decimal.Decimal `json:"min_out_amount"`
	LatencyMs      int64           `json:"latency_ms"`
	ImprovementBps int64           `json:"improvement_bps"`
	Baseline       string          `json:"baseline,omitempty"`
	FromCache      bool            `json:"from_cache"`
	Responded      []string        `json:"responded"`
	Failed         []string        `json:"failed,omitempty"`
}
