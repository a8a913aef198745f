// Package modeljson decodes JSON objects out of free-form model replies.
package modeljson

import (
	"encoding/json"
	"fmt"
	"strings"

	"docresearch/internal/pkg/apperr"
)

// Decode finds the outermost JSON object in text, tolerating markdown fences and
// surrounding prose, and unmarshals it into v. Failures wrap apperr.ErrMalformedModelText.
func Decode(text string, v any) error {
	body := strings.TrimSpace(text)
	if i := strings.Index(body, "```"); i >= 0 {
		rest := body[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.LastIndex(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		body = rest
	}
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no json object in reply", apperr.ErrMalformedModelText)
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrMalformedModelText, err)
	}
	return nil
}
