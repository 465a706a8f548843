package profile

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Swatto86/LogSleuth/pkg/types"
)

// PlainTextID is the fallback profile applied when detection stays
// below the confidence threshold. Detection itself skips it.
const PlainTextID = "plain-text"

var (
	ErrMissingField    = errors.New("missing required field")
	ErrPatternTooLong  = errors.New("regex pattern exceeds maximum length")
	ErrFileTooLarge    = errors.New("profile file exceeds maximum size")
	ErrTooManyProfiles = errors.New("too many profiles")
	ErrUnknownProfile  = errors.New("unknown profile")
)

// Definition is the on-disk TOML shape of a format profile.
type Definition struct {
	Profile          ProfileSection   `toml:"profile"`
	Detection        DetectionSection `toml:"detection"`
	Parsing          ParsingSection   `toml:"parsing"`
	SeverityMapping  SeveritySection  `toml:"severity_mapping"`
	SeverityOverride SeveritySection  `toml:"severity_override"`
}

// ProfileSection identifies a profile.
type ProfileSection struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
}

// DetectionSection declares how files of this format are recognized.
type DetectionSection struct {
	FilePatterns []string `toml:"file_patterns"`
	ContentMatch string   `toml:"content_match"`
}

// ParsingSection declares how lines of this format are parsed.
type ParsingSection struct {
	LinePattern     string              `toml:"line_pattern"`
	TimestampFormat string              `toml:"timestamp_format"`
	MultilineMode   types.MultilineMode `toml:"multiline_mode"`
}

// SeveritySection lists format-specific strings per severity. Used
// both for the token map (exact, case-insensitive) and the override
// patterns (regular expressions over the entry's message text).
type SeveritySection struct {
	Critical []string `toml:"critical"`
	Error    []string `toml:"error"`
	Warning  []string `toml:"warning"`
	Info     []string `toml:"info"`
	Debug    []string `toml:"debug"`
}

func (s SeveritySection) byLevel() map[types.Severity][]string {
	out := make(map[types.Severity][]string)
	insert := func(sev types.Severity, tokens []string) {
		if len(tokens) > 0 {
			out[sev] = tokens
		}
	}
	insert(types.SeverityCritical, s.Critical)
	insert(types.SeverityError, s.Error)
	insert(types.SeverityWarning, s.Warning)
	insert(types.SeverityInfo, s.Info)
	insert(types.SeverityDebug, s.Debug)
	return out
}

// Limits bound profile compilation.
type Limits struct {
	MaxPatternLength int
}

// FormatProfile is a compiled, immutable profile ready for detection
// and parsing.
type FormatProfile struct {
	ID          string
	Name        string
	Version     string
	Description string

	FilePatterns []string
	ContentMatch *regexp.Regexp

	// LinePattern uses named groups: timestamp, level, thread,
	// component, message.
	LinePattern *regexp.Regexp
	// TimestampFormat keeps the declared strftime tokens for error
	// reporting; TimestampLayout is its Go translation.
	TimestampFormat string
	TimestampLayout string
	// Yearless formats get the current year injected during parsing.
	Yearless      bool
	MultilineMode types.MultilineMode

	// SeverityTokens maps severities to level strings, matched
	// case-insensitively against the level capture.
	SeverityTokens map[types.Severity][]string
	// SeverityPatterns are override regexes evaluated against the
	// entry's message text, checked most severe first.
	SeverityPatterns map[types.Severity][]*regexp.Regexp

	Builtin bool
}

// ParseDefinition decodes a profile TOML document.
func ParseDefinition(content string) (*Definition, error) {
	var def Definition
	if _, err := toml.Decode(content, &def); err != nil {
		return nil, fmt.Errorf("invalid profile TOML: %w", err)
	}
	return &def, nil
}

// Compile validates a definition and compiles its patterns.
func (d *Definition) Compile(limits Limits, builtin bool) (*FormatProfile, error) {
	for _, field := range []struct {
		name, value string
	}{
		{"profile.id", d.Profile.ID},
		{"profile.name", d.Profile.Name},
		{"detection.content_match", d.Detection.ContentMatch},
		{"parsing.line_pattern", d.Parsing.LinePattern},
		{"parsing.timestamp_format", d.Parsing.TimestampFormat},
	} {
		if strings.TrimSpace(field.value) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, field.name)
		}
	}

	version := d.Profile.Version
	if version == "" {
		version = "1.0"
	}

	contentMatch, err := compileRegex(d.Detection.ContentMatch, limits)
	if err != nil {
		return nil, fmt.Errorf("detection.content_match: %w", err)
	}

	linePattern, err := compileRegex(d.Parsing.LinePattern, limits)
	if err != nil {
		return nil, fmt.Errorf("parsing.line_pattern: %w", err)
	}

	layout, hasYear, err := convertStrftime(d.Parsing.TimestampFormat)
	if err != nil {
		return nil, fmt.Errorf("parsing.timestamp_format: %w", err)
	}

	mode := d.Parsing.MultilineMode
	if mode == "" {
		mode = types.MultilineContinuation
	}

	overrides := make(map[types.Severity][]*regexp.Regexp)
	for sev, patterns := range d.SeverityOverride.byLevel() {
		for _, pattern := range patterns {
			re, err := compileRegex(pattern, limits)
			if err != nil {
				return nil, fmt.Errorf("severity_override.%s: %w", sev, err)
			}
			overrides[sev] = append(overrides[sev], re)
		}
	}

	prof := &FormatProfile{
		ID:               d.Profile.ID,
		Name:             d.Profile.Name,
		Version:          version,
		Description:      d.Profile.Description,
		FilePatterns:     d.Detection.FilePatterns,
		ContentMatch:     contentMatch,
		LinePattern:      linePattern,
		TimestampFormat:  d.Parsing.TimestampFormat,
		TimestampLayout:  layout,
		Yearless:         !hasYear,
		MultilineMode:    mode,
		SeverityTokens:   d.SeverityMapping.byLevel(),
		SeverityPatterns: overrides,
		Builtin:          builtin,
	}

	if !hasNamedGroup(linePattern, "message") {
		// Entries fall back to the whole line as message. Loadable,
		// but usually a profile author mistake.
		logComponent().Warn().
			Str("profile_id", prof.ID).
			Msg("line_pattern has no 'message' capture group")
	}

	return prof, nil
}

func compileRegex(pattern string, limits Limits) (*regexp.Regexp, error) {
	if limits.MaxPatternLength > 0 && len(pattern) > limits.MaxPatternLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrPatternTooLong, len(pattern), limits.MaxPatternLength)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}

func hasNamedGroup(re *regexp.Regexp, name string) bool {
	for _, n := range re.SubexpNames() {
		if n == name {
			return true
		}
	}
	return false
}

// MapSeverity resolves a raw level capture via the token map,
// case-insensitively. Returns SeverityUnknown when no token matches.
func (p *FormatProfile) MapSeverity(rawLevel string) types.Severity {
	lower := strings.ToLower(rawLevel)
	for _, sev := range types.AllSeverities() {
		for _, token := range p.SeverityTokens[sev] {
			if lower == strings.ToLower(token) {
				return sev
			}
		}
	}
	return types.SeverityUnknown
}

// ApplySeverityOverride evaluates the override patterns against text
// in severity order, most severe first, so the first match wins. The
// parser hands it the entry's message. The second return is false when
// no pattern matched.
func (p *FormatProfile) ApplySeverityOverride(text string) (types.Severity, bool) {
	if len(p.SeverityPatterns) == 0 {
		return types.SeverityUnknown, false
	}
	for _, sev := range types.AllSeverities() {
		for _, re := range p.SeverityPatterns[sev] {
			if re.MatchString(text) {
				return sev, true
			}
		}
	}
	return types.SeverityUnknown, false
}

// InferSeverity scans the message for severity tokens as substrings,
// most severe first. Used for formats without a level capture.
// Returns SeverityUnknown when nothing matches.
func (p *FormatProfile) InferSeverity(message string) types.Severity {
	lower := strings.ToLower(message)
	for _, sev := range types.AllSeverities() {
		for _, token := range p.SeverityTokens[sev] {
			if strings.Contains(lower, strings.ToLower(token)) {
				return sev
			}
		}
	}
	return types.SeverityUnknown
}
