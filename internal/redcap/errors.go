package redcap

import "fmt"

// APIError is returned when REDCap answers with a non-2xx status or with its
// JSON error envelope ({"error": "..."}).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("redcap: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("redcap: HTTP %d: %s", e.StatusCode, e.Message)
}
