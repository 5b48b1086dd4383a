package validation

import (
	"fmt"
	"sort"
	"strings"
)

// Error reports invalid request fields, keyed by JSON field name.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

// FieldErrors returns the per-field messages.
func (e *Error) FieldErrors() map[string]string { return e.Fields }
