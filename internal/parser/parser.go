package parser

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Swatto86/LogSleuth/internal/logging"
	"github.com/Swatto86/LogSleuth/internal/profile"
	"github.com/Swatto86/LogSleuth/pkg/types"
)

const (
	// DefaultMaxEntrySize caps the byte size of a single entry's
	// message and raw text, including folded continuation lines.
	DefaultMaxEntrySize = 64 * 1024
	// DefaultMaxParseErrors caps recorded errors per file.
	DefaultMaxParseErrors = 1000

	truncationMarker = "... [truncated]"
)

// Config bounds a single parse run.
type Config struct {
	MaxEntrySize          int
	MaxParseErrorsPerFile int
}

// DefaultConfig returns the standard parse limits.
func DefaultConfig() Config {
	return Config{
		MaxEntrySize:          DefaultMaxEntrySize,
		MaxParseErrorsPerFile: DefaultMaxParseErrors,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxEntrySize <= 0 {
		c.MaxEntrySize = DefaultMaxEntrySize
	}
	if c.MaxParseErrorsPerFile <= 0 {
		c.MaxParseErrorsPerFile = DefaultMaxParseErrors
	}
	return c
}

// Result is the outcome of parsing one file's content.
type Result struct {
	Entries        []types.LogEntry
	Errors         []types.ParseError
	LinesProcessed uint64
}

func logComponent() *logging.Logger {
	return logging.Global().WithComponent("parser")
}

// Parse turns file content into normalized entries under a profile.
//
// Lines matching the profile's line pattern become entries with their
// captures applied; non-matching lines are folded, dropped, or kept
// verbatim according to the profile's multiline mode. Empty lines are
// skipped. Entry IDs are assigned contiguously from idStart in input
// order. Problems (unparseable timestamps, unhandled lines) are
// recorded as data, capped per file; they never abort the run.
//
// Entries whose timestamp could not be resolved get a final
// best-effort sniff over their raw text before the result is returned.
func Parse(content, sourceFile string, prof *profile.FormatProfile, cfg Config, idStart uint64) Result {
	cfg = cfg.withDefaults()

	log := logComponent().WithFile(sourceFile)
	log.Debug().
		Str("profile_id", prof.ID).
		Msg("parsing started")

	var (
		entries        []types.LogEntry
		errs           []types.ParseError
		linesProcessed uint64
		nextID         = idStart
	)

	msgIdx := prof.LinePattern.SubexpIndex("message")
	tsIdx := prof.LinePattern.SubexpIndex("timestamp")
	levelIdx := prof.LinePattern.SubexpIndex("level")
	threadIdx := prof.LinePattern.SubexpIndex("thread")
	compIdx := prof.LinePattern.SubexpIndex("component")

	rest := content
	for len(rest) > 0 {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		line = strings.TrimSuffix(line, "\r")

		linesProcessed++
		lineNumber := linesProcessed

		if strings.TrimSpace(line) == "" {
			continue
		}

		idx := prof.LinePattern.FindStringSubmatchIndex(line)
		if idx != nil {
			// capture distinguishes an unmatched optional group from
			// one that matched the empty string.
			capture := func(group int) (string, bool) {
				if group < 0 || 2*group+1 >= len(idx) || idx[2*group] < 0 {
					return "", false
				}
				return line[idx[2*group]:idx[2*group+1]], true
			}

			message := line
			if m, ok := capture(msgIdx); ok {
				message = m
			}

			// Severity resolves in layers: a captured level maps
			// through the token table first; override patterns on the
			// message are the second chance; keyword inference over
			// the message is the last. Entries that resist all three
			// stay Unknown.
			severity := types.SeverityUnknown
			if level, ok := capture(levelIdx); ok {
				severity = prof.MapSeverity(level)
			}
			if severity == types.SeverityUnknown {
				if sev, ok := prof.ApplySeverityOverride(message); ok {
					severity = sev
				} else {
					severity = prof.InferSeverity(message)
				}
			}

			// A failed timestamp parse is recorded, not fatal: the
			// entry stays visible and sorts to the end of the
			// timeline.
			var timestamp *time.Time
			if rawTS, ok := capture(tsIdx); ok {
				ts, err := ParseTimestamp(rawTS, prof.TimestampLayout, prof.Yearless)
				if err != nil {
					if len(errs) < cfg.MaxParseErrorsPerFile {
						errs = append(errs, types.NewTimestampError(sourceFile, lineNumber, rawTS, prof.TimestampFormat))
					}
				} else {
					timestamp = &ts
				}
			}

			thread, _ := capture(threadIdx)
			component, _ := capture(compIdx)

			entries = append(entries, types.LogEntry{
				ID:         nextID,
				Timestamp:  timestamp,
				Severity:   severity,
				SourceFile: sourceFile,
				LineNumber: lineNumber,
				Thread:     thread,
				Component:  component,
				Message:    message,
				RawText:    line,
				ProfileID:  prof.ID,
			})
			nextID++
		} else {
			switch prof.MultilineMode {
			case types.MultilineContinuation:
				if len(entries) > 0 {
					last := &entries[len(entries)-1]
					// Stop growing an entry once it has hit the size
					// cap.
					if len(last.Message) <= cfg.MaxEntrySize {
						last.Message += "\n" + line
					}
					if len(last.RawText) <= cfg.MaxEntrySize {
						last.RawText += "\n" + line
					}
				}
			case types.MultilineSkip:
				// Dropped below, recorded as a parse error.
			case types.MultilineRaw:
				entries = append(entries, types.LogEntry{
					ID:         nextID,
					Severity:   types.SeverityUnknown,
					SourceFile: sourceFile,
					LineNumber: lineNumber,
					Message:    line,
					RawText:    line,
					ProfileID:  prof.ID,
				})
				nextID++
			}

			// Continuation lines are only errors when there is nothing
			// to append to; skip mode always discards, so it always
			// records; raw mode handled the line as an entry, so
			// recording would inflate error counts.
			if len(errs) < cfg.MaxParseErrorsPerFile {
				isError := false
				switch prof.MultilineMode {
				case types.MultilineContinuation:
					isError = len(entries) == 0
				case types.MultilineSkip:
					isError = true
				}
				if isError {
					errs = append(errs, types.NewLineError(sourceFile, lineNumber, "line does not match profile pattern"))
				}
			}
		}

		if len(entries) > 0 {
			last := &entries[len(entries)-1]
			last.Message = truncateEntryText(last.Message, cfg.MaxEntrySize)
			last.RawText = truncateEntryText(last.RawText, cfg.MaxEntrySize)
		}
	}

	// Sniff fallback: entries whose structured capture was missing or
	// failed to parse get one more chance against the raw text. Covers
	// raw-mode files with embedded timestamps and profiles whose
	// declared format does not quite match reality.
	for i := range entries {
		if entries[i].Timestamp == nil {
			if ts, ok := SniffTimestamp(entries[i].RawText); ok {
				entries[i].Timestamp = &ts
			}
		}
	}

	log.Debug().
		Int("entries", len(entries)).
		Int("errors", len(errs)).
		Uint64("lines", linesProcessed).
		Msg("parsing complete")

	return Result{
		Entries:        entries,
		Errors:         errs,
		LinesProcessed: linesProcessed,
	}
}

// truncateEntryText caps s at max bytes, backing off to a rune
// boundary and appending a marker. Text already carrying the marker is
// left alone so repeated passes do not chew into it.
func truncateEntryText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if len(s) <= max+len(truncationMarker) && strings.HasSuffix(s, truncationMarker) {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}
