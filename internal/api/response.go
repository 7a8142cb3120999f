package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/sebashdez96/biotecza-bot/internal/store"
)

// fallbackErrorResponse is written when a response cannot be encoded.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse encodes response before touching the headers, so an
// encoding failure still produces a well-formed error envelope.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, models.Error(message))
}

// writeProcessingError answers a failed transition: 503 when the store is
// unreachable, 500 otherwise. Both make webhook providers redeliver.
func writeProcessingError(w http.ResponseWriter, err error, message string) {
	writeError(w, processingStatus(err), message)
}

func processingStatus(err error) int {
	if store.IsUnavailable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
