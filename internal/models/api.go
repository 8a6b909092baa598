package models

// APIResponse is the envelope for JSON endpoints.
type APIResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Success wraps a result in a success envelope.
func Success(result any) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// Error wraps a message in an error envelope.
func Error(msg string) APIResponse {
	return APIResponse{Status: "error", Error: msg}
}
