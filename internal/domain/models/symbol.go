package models

// TrackedSymbol is an entry of the static symbol list loaded at startup.
type TrackedSymbol struct {
	Symbol     string `json:"symbol"`
	ProviderID string `json:"provider_id"`
	Active     bool   `json:"active"`
}
