package corpus

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

var deltaPattern = regexp.MustCompile(`^(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp reads an ISO-8601 timestamp. Values without a zone are UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseDelta reads an offset from the previous event: plain seconds ("42")
// or the 1d2h3m4s notation.
func ParseDelta(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, nil
	}
	m := deltaPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, goerr.Wrap(ErrInvalidCorpus, "parse time delta", goerr.V("delta", raw))
	}
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, goerr.Wrap(ErrInvalidCorpus, "parse time delta", goerr.V("delta", raw))
		}
		d += time.Duration(n) * unit
	}
	return d, nil
}

// resolveTimestamp reads raw as an absolute timestamp, falling back to a
// delta from last.
func resolveTimestamp(raw string, last time.Time) (time.Time, error) {
	if ts, ok := ParseTimestamp(raw); ok {
		return ts, nil
	}
	d, err := ParseDelta(raw)
	if err != nil {
		return time.Time{}, err
	}
	if last.IsZero() {
		return time.Time{}, goerr.Wrap(ErrInvalidCorpus, "relative timestamp without a base", goerr.V("delta", raw))
	}
	return last.Add(d), nil
}
