package models

// ModelInfo describes one entry of the model allow-list.
type ModelInfo struct {
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	BaseURL    string `json:"base_url,omitempty"`
	Configured bool   `json:"configured"`
}
