package api

import (
	"encoding/json"
	"io"
	"net/http"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Error codes used in ErrorResponse.
const (
	ErrorCodeInvalidRequest = "INVALID_REQUEST"
	ErrorCodeNotFound       = "NOT_FOUND"
	ErrorCodeInternalError  = "INTERNAL_ERROR"
)

// WriteJSON encodes data to w without HTML escaping.
func WriteJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}

// WriteError sends an ErrorResponse with statusCode.
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = WriteJSON(w, ErrorResponse{Error: errorCode, Message: message})
}
