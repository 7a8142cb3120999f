package models

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed.
	APIStatusError APIStatus = "error"
	// APIStatusIgnored indicates the request was accepted but had nothing to process
	// (status-only webhook events, redelivered message ids).
	APIStatusIgnored APIStatus = "ignored"
)

// APIResponse is the JSON envelope returned by the HTTP API.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success returns an ok response carrying result.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// SuccessWithMessage returns an ok response with a human readable message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Message: message, Result: result}
}

// Ignored returns a response for accepted requests that produced no work.
func Ignored(message string) APIResponse {
	return APIResponse{Status: APIStatusIgnored, Message: message}
}

// Error returns an error response.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}

// SimulateRequest is the body accepted by the simulate endpoint.
type SimulateRequest struct {
	From     string `json:"from"`
	Text     string `json:"text"`
	MediaRef string `json:"media_ref,omitempty"`
}

// SimulateResult lists the replies produced for a simulated inbound message.
type SimulateResult struct {
	From    string  `json:"from"`
	State   string  `json:"state"`
	Replies []Reply `json:"replies"`
}
