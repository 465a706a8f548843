package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp parses a captured timestamp against the profile's
// layout, trying progressively looser strategies so common real-world
// variations succeed even when the declared format is not an exact
// match:
//
//  1. Direct parse with the layout. Date-only inputs resolve to
//     midnight, and a fractional second after the seconds field is
//     accepted whether or not the layout declares one.
//  2. RFC 3339 / ISO 8601 with timezone, independent of the layout.
//  3. Separator normalization ('/' to '-', 'T' to space), then retry.
//  4. For year-less layouts, current-year injection. Best-effort:
//     files spanning a year boundary get the wrong year for entries
//     from the previous year.
//
// All results are UTC.
func ParseTimestamp(raw, layout string, yearless bool) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)

	if yearless {
		// Parsing a year-less layout directly would yield year 0, so
		// inject the current year up front.
		withYear := fmt.Sprintf("%d %s", time.Now().UTC().Year(), trimmed)
		if ts, err := time.Parse("2006 "+layout, withYear); err == nil {
			return ts.UTC(), nil
		}
		// A fully qualified timestamp can still appear under a
		// year-less profile.
		if ts, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
			return ts.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("cannot parse %q with layout %q", trimmed, layout)
	}

	if ts, err := time.Parse(layout, trimmed); err == nil {
		return ts.UTC(), nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return ts.UTC(), nil
	}

	normalized := strings.ReplaceAll(trimmed, "/", "-")
	normalized = strings.ReplaceAll(normalized, "T", " ")
	if normalized != trimmed {
		if ts, err := time.Parse(layout, normalized); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("cannot parse %q with layout %q", trimmed, layout)
}

// sniffer finds a timestamp substring and converts it.
type sniffer struct {
	re    *regexp.Regexp
	parse func(string) (time.Time, bool)
}

// sniffers are ordered most-precise first (explicit timezone) down to
// least-precise (year-less syslog), so higher-confidence shapes win
// when a line contains more than one match.
var sniffers = []sniffer{
	// RFC 3339 / ISO 8601 with explicit timezone:
	//   2024-01-15T14:30:22Z
	//   2024-01-15T14:30:22.123456+05:30
	{
		re: regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})`),
		parse: func(s string) (time.Time, bool) {
			// Insert the colon RFC 3339 requires into +0530 offsets.
			if len(s) > 5 {
				tail := s[len(s)-5:]
				if (tail[0] == '+' || tail[0] == '-') && !strings.Contains(tail, ":") {
					s = s[:len(s)-2] + ":" + s[len(s)-2:]
				}
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			return ts.UTC(), err == nil
		},
	},
	// ISO 8601 with comma milliseconds (log4j style):
	//   2024-01-15 14:30:22,123
	{
		re: regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2},\d+`),
		parse: func(s string) (time.Time, bool) {
			s = strings.Replace(s, "T", " ", 1)
			ts, err := time.Parse("2006-01-02 15:04:05", s)
			return ts, err == nil
		},
	},
	// ISO 8601 without timezone, optional dot-millis:
	//   2024-01-15 14:30:22.123
	//   2024-01-15T14:30:22
	{
		re: regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?`),
		parse: func(s string) (time.Time, bool) {
			s = strings.Replace(s, "T", " ", 1)
			ts, err := time.Parse("2006-01-02 15:04:05", s)
			return ts, err == nil
		},
	},
	// Slash year-first: 2024/01/15 14:30:22
	{
		re: regexp.MustCompile(`\d{4}/\d{2}/\d{2}[ T]\d{2}:\d{2}:\d{2}(?:\.\d+)?`),
		parse: func(s string) (time.Time, bool) {
			s = strings.ReplaceAll(s, "/", "-")
			s = strings.Replace(s, "T", " ", 1)
			ts, err := time.Parse("2006-01-02 15:04:05", s)
			return ts, err == nil
		},
	},
	// Dot day-first, Veeam style: 26.02.2026 22:07:56.535
	{
		re: regexp.MustCompile(`\d{2}\.\d{2}\.\d{4} \d{2}:\d{2}:\d{2}(?:\.\d+)?`),
		parse: func(s string) (time.Time, bool) {
			ts, err := time.Parse("02.01.2006 15:04:05", s)
			return ts, err == nil
		},
	},
	// Apache combined log: 15/Jan/2024:14:30:22 +0000
	{
		re: regexp.MustCompile(`\d{2}/[A-Za-z]{3}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4}`),
		parse: func(s string) (time.Time, bool) {
			ts, err := time.Parse("02/Jan/2006:15:04:05 -0700", s)
			return ts.UTC(), err == nil
		},
	},
	// Slash-delimited with 4-digit year: both 01/15/2024 and 15/01/2024.
	{
		re: regexp.MustCompile(`\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}`),
		parse: func(s string) (time.Time, bool) {
			layout, ok := slashDateLayout(s, "01/02/2006 15:04:05", "02/01/2006 15:04:05")
			if !ok {
				return time.Time{}, false
			}
			ts, err := time.Parse(layout, s)
			return ts, err == nil
		},
	},
	// Slash-delimited with 2-digit year, Windows DHCP style:
	//   01/15/24,14:30:22
	{
		re: regexp.MustCompile(`\d{2}/\d{2}/\d{2},\d{2}:\d{2}:\d{2}`),
		parse: func(s string) (time.Time, bool) {
			layout, ok := slashDateLayout(s, "01/02/06,15:04:05", "02/01/06,15:04:05")
			if !ok {
				return time.Time{}, false
			}
			ts, err := time.Parse(layout, s)
			return ts, err == nil
		},
	},
	// Month-name with 4-digit year:
	//   Jan 15 2024 14:30:22
	//   January 15, 2024 14:30:22
	{
		re: regexp.MustCompile(`[A-Z][a-z]{2,8} \d{1,2},? \d{4} \d{2}:\d{2}:\d{2}`),
		parse: func(s string) (time.Time, bool) {
			s = strings.ReplaceAll(s, ",", " ")
			s = strings.Join(strings.Fields(s), " ")
			if ts, err := time.Parse("Jan 2 2006 15:04:05", s); err == nil {
				return ts, true
			}
			ts, err := time.Parse("January 2 2006 15:04:05", s)
			return ts, err == nil
		},
	},
	// BSD syslog year-less: Jan 15 14:30:22 or Jan  5 04:00:01.
	// The current UTC year is injected, best-effort.
	{
		re: regexp.MustCompile(`[A-Z][a-z]{2} [ \d]\d \d{2}:\d{2}:\d{2}`),
		parse: func(s string) (time.Time, bool) {
			withYear := fmt.Sprintf("%d %s", time.Now().UTC().Year(), s)
			ts, err := time.Parse("2006 Jan _2 15:04:05", withYear)
			return ts, err == nil
		},
	},
	// Compact ISO: 20240115T143022 or 20240115 143022
	{
		re: regexp.MustCompile(`\d{8}[T ]\d{6}`),
		parse: func(s string) (time.Time, bool) {
			s = strings.Replace(s, " ", "T", 1)
			ts, err := time.Parse("20060102T150405", s)
			return ts, err == nil
		},
	},
	// Unix epoch seconds, only at line start so port numbers and PIDs
	// mid-line are not mistaken for timestamps.
	{
		re: regexp.MustCompile(`^\d{10}(?:\.\d+)?`),
		parse: func(s string) (time.Time, bool) {
			secs, _, _ := strings.Cut(s, ".")
			n, err := strconv.ParseInt(secs, 10, 64)
			if err != nil {
				return time.Time{}, false
			}
			return time.Unix(n, 0).UTC(), true
		},
	},
}

// SniffTimestamp finds and parses any recognisable timestamp embedded
// anywhere in the line. Best-effort fallback for entries whose
// structured capture was missing or failed to parse; a tier whose
// match does not parse falls through to the next tier.
func SniffTimestamp(rawLine string) (time.Time, bool) {
	for i := range sniffers {
		if m := sniffers[i].re.FindString(rawLine); m != "" {
			if ts, ok := sniffers[i].parse(m); ok {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// slashDateLayout disambiguates NN/NN two-field slash dates. A first
// field over 12 cannot be a month, so day-first order is used;
// symmetrically a second field over 12 forces month-first. When both
// fields are 12 or less the date is genuinely ambiguous and
// month-first (US convention) is the documented, deterministic
// default.
func slashDateLayout(s, monthFirst, dayFirst string) (string, bool) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) < 3 {
		return "", false
	}
	first, err1 := strconv.Atoi(parts[0])
	second, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return "", false
	}
	switch {
	case first > 12:
		return dayFirst, true
	case second > 12:
		return monthFirst, true
	default:
		return monthFirst, true
	}
}
