package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValidationErrors aggregates field-level validation failures for a
// single record. It is a typed error value, never panicked.
type ValidationErrors struct {
	Fields map[string][]string `json:"fields"`
}

// NewValidationErrors creates an empty ValidationErrors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Fields: make(map[string][]string),
	}
}

// Add records a validation error for a specific field
func (ve *ValidationErrors) Add(field, message string) {
	if ve.Fields == nil {
		ve.Fields = make(map[string][]string)
	}
	ve.Fields[field] = append(ve.Fields[field], message)
}

// HasErrors returns true if any field failed validation
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Fields) > 0
}

// Count returns the total number of messages across all fields
func (ve *ValidationErrors) Count() int {
	count := 0
	for _, messages := range ve.Fields {
		count += len(messages)
	}
	return count
}

// Error implements the error interface with a composed human-readable
// summary. Fields are sorted so the message is stable.
func (ve *ValidationErrors) Error() string {
	if !ve.HasErrors() {
		return "validation failed"
	}

	fields := make([]string, 0, len(ve.Fields))
	for field := range ve.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var messages []string
	for _, field := range fields {
		for _, msg := range ve.Fields[field] {
			messages = append(messages, fmt.Sprintf("%s: %s", field, msg))
		}
	}

	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// MarshalJSON serializes the error with a stable top-level shape
func (ve *ValidationErrors) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error  string              `json:"error"`
		Fields map[string][]string `json:"fields"`
	}{
		Error:  "validation_failed",
		Fields: ve.Fields,
	})
}
