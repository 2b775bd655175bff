package models

// Requests for the quote HTTP endpoints.

type QuoteRequest struct {
	Input       string `query:"input" json:"input" validate:"required"`
	Output      string `query:"output" json:"output" validate:"required,nefield=Input"`
	Amount      string `query:"amount" json:"amount" validate:"required,numeric"`
	SlippageBps int    `query:"slippage_bps" json:"slippage_bps" default:"50" validate:"gte=0,lte=5000"`
}

type SourceToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}
