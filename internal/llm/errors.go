package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-200 response from the completion API.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "(no message)"
	}
	if e.Code != "" {
		return fmt.Sprintf("completion API error %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("completion API error %d: %s", e.StatusCode, msg)
}

// parseAPIError builds an APIError from an error response body. Bodies
// that are not the OpenAI error envelope are kept verbatim as the message.
func parseAPIError(status int, body string) *APIError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status, Message: strings.TrimSpace(body)}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil || envelope.Error.Message == "" {
		return apiErr
	}
	apiErr.Message = envelope.Error.Message
	apiErr.Type = envelope.Error.Type
	if envelope.Error.Code != nil {
		apiErr.Code = fmt.Sprint(envelope.Error.Code)
	}
	return apiErr
}

var modelErrorCodes = map[string]bool{
	"model_decommissioned": true,
	"model_not_found":      true,
}

var modelErrorMarkers = []string{
	"decommissioned",
	"model_not_found",
	"does not exist",
	"invalid model",
	"no longer supported",
}

// IsModelError reports whether err indicates the requested model is
// unknown, retired, or otherwise unusable. Such errors need a config
// change rather than another attempt.
func IsModelError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && modelErrorCodes[apiErr.Code] {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range modelErrorMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
