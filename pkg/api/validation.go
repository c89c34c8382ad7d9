package api

import "fmt"

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxMessages    int
	MaxContentSize int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages:    1000,
		MaxContentSize: 4 * 1024 * 1024, // 4MB
	}
}

// ValidateRequest checks a ChatRequest for validity. It returns an *Error
// describing the first validation failure, or nil if the request is valid.
// Validation never performs I/O.
func ValidateRequest(req *ChatRequest, cfg ValidationConfig) *Error {
	if req.Provider == "" {
		return NewValidationError("provider is required")
	}

	if len(req.Messages) == 0 {
		return NewValidationError("messages must contain at least one message")
	}

	if cfg.MaxMessages > 0 && len(req.Messages) > cfg.MaxMessages {
		return NewValidationError(fmt.Sprintf("messages exceeds maximum of %d", cfg.MaxMessages))
	}

	systemCount := 0
	total := 0
	for i, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			systemCount++
		case RoleUser, RoleAssistant:
		default:
			return NewValidationError(fmt.Sprintf("messages[%d]: invalid role %q", i, m.Role))
		}
		total += len(m.Content)
	}
	if systemCount > 1 {
		return NewValidationError("at most one system message is allowed")
	}
	if cfg.MaxContentSize > 0 && total > cfg.MaxContentSize {
		return NewValidationError(fmt.Sprintf("total content exceeds maximum of %d bytes", cfg.MaxContentSize))
	}

	if req.Temperature != nil && (*req.Temperature < 0.0 || *req.Temperature > 2.0) {
		return NewValidationError("temperature must be between 0.0 and 2.0")
	}
	if req.TopP != nil && (*req.TopP < 0.0 || *req.TopP > 1.0) {
		return NewValidationError("top_p must be between 0.0 and 1.0")
	}
	if req.TopK != nil && *req.TopK < 0 {
		return NewValidationError("top_k must be non-negative")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return NewValidationError("max_tokens must be positive")
	}

	return nil
}
