package models

// RuntimeInfo describes the backend runtime settings that the frontend may need.
type RuntimeInfo struct {
	HTTPBaseURL   string   `json:"http_base_url"`
	WSBaseURL     string   `json:"ws_base_url"`
	Port          int      `json:"port"`
	Models        []string `json:"models"`
	ActiveStreams int      `json:"active_streams"`
	CancelBus     bool     `json:"cancel_bus"`
}
