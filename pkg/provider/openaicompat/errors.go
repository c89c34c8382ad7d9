package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chorus-llm/chorus/pkg/api"
)

// MapHTTPError converts an HTTP response with a non-2xx status code into
// an api.Error. It attempts to parse the response body as a
// ChatErrorResponse to extract a descriptive message.
func MapHTTPError(provider string, resp *http.Response) *api.Error {
	message := ExtractErrorMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if message == "" {
			message = "backend rejected the credential"
		}
		e := api.NewCredentialError(provider, message)
		e.HTTPStatus = resp.StatusCode
		return e

	case resp.StatusCode == http.StatusTooManyRequests:
		if message == "" {
			message = "backend rate limit exceeded"
		}
		return api.NewRateLimitError(provider, message)

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		if message == "" {
			message = fmt.Sprintf("backend rejected the request (HTTP %d)", resp.StatusCode)
		}
		e := api.NewValidationError(message)
		e.Provider = provider
		e.HTTPStatus = resp.StatusCode
		return e

	default:
		if message == "" {
			message = fmt.Sprintf("backend error (HTTP %d)", resp.StatusCode)
		}
		e := api.NewProviderUnavailableError(provider, message)
		e.HTTPStatus = resp.StatusCode
		return e
	}
}

// MapNetworkError converts a network-level error (connection refused,
// timeout, DNS failure) or a cancelled context into an api.Error.
func MapNetworkError(provider string, err error) *api.Error {
	if errors.Is(err, context.Canceled) {
		return api.NewAbortedError(provider)
	}
	e := api.NewProviderUnavailableError(provider,
		fmt.Sprintf("backend connection error: %s", err.Error()))
	e.Cause = err
	return e
}

// ExtractErrorMessage tries to parse the response body as a
// ChatErrorResponse and returns the error message if found.
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var errResp ChatErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}

	return ""
}

// MapFinishReason maps a Chat Completions finish_reason to the uniform set.
func MapFinishReason(reason string) api.FinishReason {
	switch reason {
	case "stop":
		return api.FinishReasonStop
	case "length":
		return api.FinishReasonLength
	case "content_filter":
		return api.FinishReasonContentFilter
	case "":
		return api.FinishReasonUnknown
	default:
		return api.FinishReason(reason)
	}
}
