package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	hexColorPattern  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	spacingToken     = regexp.MustCompile(`^(?:0|\d+(?:\.\d+)?(?:px|em|rem|%))$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// dateLayouts are tried in order; layouts without a zone are read as UTC
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate parses an ISO 8601 date or date-time
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %q", s)
}

// IsValidColor accepts #RGB and #RRGGBB hex colors
func IsValidColor(color string) bool {
	return hexColorPattern.MatchString(color)
}

// IsValidBackground accepts a hex color or "transparent"
func IsValidBackground(bg string) bool {
	return bg == "transparent" || IsValidColor(bg)
}

// IsValidSpacing accepts one to four CSS length tokens separated by spaces
func IsValidSpacing(s string) bool {
	tokens := strings.Fields(s)
	if len(tokens) == 0 || len(tokens) > 4 {
		return false
	}
	for _, tok := range tokens {
		if !spacingToken.MatchString(tok) {
			return false
		}
	}
	return true
}

// IsValidSessionID reports whether id may be used as a session key
func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
