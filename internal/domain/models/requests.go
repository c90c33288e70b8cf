package models

// Requests for signal HTTP endpoints. Defined in domain for consistency and reuse.

type SignalRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required"`
	Timeframe string `query:"timeframe" json:"timeframe" default:"1h" validate:"required"`
}

type SymbolSignalsRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required"`
}

type ListSignalsRequest struct {
	Timeframe string `query:"timeframe" json:"timeframe"`
	Direction string `query:"direction" json:"direction" validate:"omitempty,oneof=LONG SHORT NEUTRAL"`
	MinConf   int    `query:"min_confidence" json:"min_confidence" default:"0" validate:"gte=0,lte=100"`
}

// RecomputeRequest is the payload accepted on the recompute topic.
type RecomputeRequest struct {
	RequestedBy string `json:"requested_by"`
	Reason      string `json:"reason"`
}
