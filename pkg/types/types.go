package types

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the normalized log level scale. Higher values are more
// severe; the zero value is SeverityUnknown.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// AllSeverities returns every severity ordered most severe first, with
// SeverityUnknown last. Classification passes depend on this order.
func AllSeverities() []Severity {
	return []Severity{
		SeverityCritical,
		SeverityError,
		SeverityWarning,
		SeverityInfo,
		SeverityDebug,
		SeverityUnknown,
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a severity name to its value, case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "critical":
		return SeverityCritical, nil
	case "error":
		return SeverityError, nil
	case "warning":
		return SeverityWarning, nil
	case "info":
		return SeverityInfo, nil
	case "debug":
		return SeverityDebug, nil
	case "unknown":
		return SeverityUnknown, nil
	default:
		return SeverityUnknown, fmt.Errorf("unknown severity %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler so severities serialize
// as their lowercase names, including as JSON map keys.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	sev, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// MultilineMode controls what the parser does with lines that do not
// match a profile's line pattern.
type MultilineMode string

const (
	// MultilineContinuation appends non-matching lines to the previous entry.
	MultilineContinuation MultilineMode = "continuation"
	// MultilineSkip drops non-matching lines and records a parse error.
	MultilineSkip MultilineMode = "skip"
	// MultilineRaw emits each non-matching line as a standalone entry.
	MultilineRaw MultilineMode = "raw"
)

// ParseMultilineMode maps a mode name to its value. The empty string
// resolves to MultilineContinuation, the default for profiles that omit it.
func ParseMultilineMode(name string) (MultilineMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(MultilineContinuation):
		return MultilineContinuation, nil
	case string(MultilineSkip):
		return MultilineSkip, nil
	case string(MultilineRaw):
		return MultilineRaw, nil
	default:
		return MultilineContinuation, fmt.Errorf("unknown multiline mode %q", name)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so profile documents
// are validated at decode time.
func (m *MultilineMode) UnmarshalText(text []byte) error {
	mode, err := ParseMultilineMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// LogEntry is one normalized log record, possibly folded from several
// physical lines. Entries are immutable after creation except for the
// two time fields: Timestamp may be backfilled by the sniff pass and
// FileModified is stamped by the driver that produced the entry.
type LogEntry struct {
	// ID is unique and assigned contiguously within a scan session.
	ID           uint64     `json:"id"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	Severity     Severity   `json:"severity"`
	SourceFile   string     `json:"source_file"`
	LineNumber   uint64     `json:"line_number"`
	Thread       string     `json:"thread,omitempty"`
	Component    string     `json:"component,omitempty"`
	Message      string     `json:"message"`
	RawText      string     `json:"raw_text"`
	ProfileID    string     `json:"profile_id"`
	FileModified *time.Time `json:"file_modified,omitempty"`
}

// DiscoveredFile is the metadata for a file found during discovery,
// before parsing. The directory watcher refreshes Modified when a known
// file's mtime moves.
type DiscoveredFile struct {
	Path       string     `json:"path"`
	Size       int64      `json:"size"`
	Modified   *time.Time `json:"modified,omitempty"`
	ProfileID  string     `json:"profile_id,omitempty"`
	Confidence float64    `json:"confidence"`
	IsLarge    bool       `json:"is_large,omitempty"`
}

// ScanState identifies the phase a scan operation is in.
type ScanState string

const (
	ScanStateIdle        ScanState = "idle"
	ScanStateDiscovering ScanState = "discovering"
	ScanStateDetecting   ScanState = "detecting"
	ScanStateParsing     ScanState = "parsing"
	ScanStateSorting     ScanState = "sorting"
	ScanStateStreaming   ScanState = "streaming"
	ScanStateCompleted   ScanState = "completed"
	ScanStateCancelled   ScanState = "cancelled"
	ScanStateFailed      ScanState = "failed"
)

// Terminal reports whether the state ends a scan.
func (s ScanState) Terminal() bool {
	switch s {
	case ScanStateCompleted, ScanStateCancelled, ScanStateFailed:
		return true
	}
	return false
}

// FileSummary holds per-file scan statistics.
type FileSummary struct {
	Path       string     `json:"path"`
	ProfileID  string     `json:"profile_id"`
	EntryCount int        `json:"entry_count"`
	ErrorCount int        `json:"error_count"`
	Earliest   *time.Time `json:"earliest,omitempty"`
	Latest     *time.Time `json:"latest,omitempty"`
}

// ScanSummary holds the totals for a completed (or cancelled) scan.
type ScanSummary struct {
	// FilesDiscovered counts the files kept for parsing after the
	// discovery cap was applied.
	FilesDiscovered int `json:"files_discovered"`
	// TotalMatched is the true number of files that matched the
	// discovery filters, including any dropped by the cap.
	TotalMatched  int              `json:"total_matched"`
	FilesParsed   int              `json:"files_parsed"`
	FilesFailed   int              `json:"files_failed"`
	TotalEntries  int              `json:"total_entries"`
	BySeverity    map[Severity]int `json:"by_severity,omitempty"`
	ParseErrors   int              `json:"parse_errors"`
	EntriesCapped bool             `json:"entries_capped,omitempty"`
	FileSummaries []FileSummary    `json:"file_summaries,omitempty"`
	Duration      time.Duration    `json:"duration"`
}
