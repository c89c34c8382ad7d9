package transport

import (
	"encoding/json"
	"net/http"

	"github.com/chorus-llm/chorus/pkg/api"
)

// StatusClientClosedRequest is the nginx convention for a request the
// client abandoned before the response completed. There is no standard
// status code for an aborted dispatch.
const StatusClientClosedRequest = 499

// HTTPStatusFromError maps an error type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type,
// method not allowed) are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.Error) int {
	switch err.Type {
	case api.ErrorTypeValidation:
		return http.StatusBadRequest
	case api.ErrorTypeUnknownProvider:
		return http.StatusNotFound
	case api.ErrorTypeCredential:
		return http.StatusUnauthorized
	case api.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case api.ErrorTypeProviderUnavailable:
		return http.StatusBadGateway
	case api.ErrorTypeAborted:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api. It sets the Content-Type header and writes
// the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.Error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteError writes an error response, classifying the error into the
// closed taxonomy and deriving the HTTP status code from its type.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := api.AsError(err)
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
