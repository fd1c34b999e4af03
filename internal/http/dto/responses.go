package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type ClickStatsResponse struct {
	DealID         string `json:"deal_id"`
	UniqueVisitors int    `json:"unique_visitors"`
	ChargedClicks  int    `json:"charged_clicks"`
	Spent          string `json:"spent"`
	Budget         string `json:"budget,omitempty"`
}

type StatusInfo struct {
	Status   string   `json:"status"`
	Terminal bool     `json:"terminal"`
	Next     []string `json:"next"`
}
