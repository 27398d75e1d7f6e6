package api

import (
	"fmt"
	"strings"
)

// parseConditional parses an If-Match/If-None-Match header value into version
// tokens. An empty header yields nil. The literal "*" yields a single "*"
// token. Anything else must be a comma-separated list of double-quoted
// version strings; one malformed token rejects the whole header.
func parseConditional(header string) ([]string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	if header == "*" {
		return []string{"*"}, nil
	}

	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, tok := range parts {
		tok = strings.TrimSpace(tok)
		if len(tok) < 2 || tok[0] != '"' || tok[len(tok)-1] != '"' {
			return nil, fmt.Errorf("api: malformed conditional token %q", tok)
		}
		inner := tok[1 : len(tok)-1]
		if strings.Contains(inner, `"`) {
			return nil, fmt.Errorf("api: malformed conditional token %q", tok)
		}
		out = append(out, inner)
	}
	return out, nil
}

// quoteETag renders a version string as an ETag header value.
func quoteETag(version string) string {
	return `"` + version + `"`
}
