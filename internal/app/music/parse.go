package music

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ParseTimestamp parses "ss", "mm:ss" or "hh:mm:ss".
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidTime
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, errors.Wrapf(ErrInvalidTime, "%q", s)
	}

	var total int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, errors.Wrapf(ErrInvalidTime, "%q", s)
		}
		// Every field after the first is a sexagesimal digit
		if i > 0 && n >= 60 {
			return 0, errors.Wrapf(ErrInvalidTime, "%q", s)
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, nil
}

// isURL reports whether the query is a link rather than search text.
func isURL(q string) bool {
	return strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://")
}

// position parses a 1-based queue position.
func position(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
