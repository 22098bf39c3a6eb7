package common

import (
	"strings"
	"time"
)

// IST is the fixed portal timezone, UTC+05:30. All portal closing times are
// IST-native; readers convert only at presentation boundaries.
var IST = time.FixedZone("IST", 5*3600+30*60)

// closingLayouts are tried in order; first match wins. Layout order matters:
// the dominant portal family renders "20-Feb-2026 10:00 AM".
var closingLayouts = []string{
	"2-Jan-2006 3:04 PM",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// NowIST returns the current wall-clock time in IST
func NowIST() time.Time {
	return time.Now().In(IST)
}

// ParseClosingTime parses a portal closing-date string into an IST timestamp.
// Returns ok=false for unparseable text; callers must treat such tenders as
// conservatively live, never drop them.
func ParseClosingTime(text string) (time.Time, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range closingLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, IST); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
