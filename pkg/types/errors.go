package types

import "fmt"

// ParseErrorKind distinguishes the recoverable problems recorded while
// reading and parsing a file.
type ParseErrorKind string

const (
	// ParseErrorTimestamp marks a timestamp capture that did not parse
	// under the profile's format.
	ParseErrorTimestamp ParseErrorKind = "timestamp"
	// ParseErrorLine marks a line that did not match the profile's line
	// pattern and was not absorbed by the multiline mode.
	ParseErrorLine ParseErrorKind = "line"
	// ParseErrorRead marks an I/O failure while reading the file.
	ParseErrorRead ParseErrorKind = "read"
	// ParseErrorEncoding marks undecodable content, such as a partial
	// line buffer that overflowed.
	ParseErrorEncoding ParseErrorKind = "encoding"
)

// ParseError is a recoverable problem carried as data in results and
// progress messages. It never aborts a scan.
type ParseError struct {
	Kind       ParseErrorKind `json:"kind"`
	File       string         `json:"file"`
	LineNumber uint64         `json:"line_number,omitempty"`
	Detail     string         `json:"detail"`
}

func (e ParseError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.LineNumber, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Kind, e.Detail)
}

// NewTimestampError records a failed timestamp parse for one line.
func NewTimestampError(file string, line uint64, rawTimestamp, format string) ParseError {
	return ParseError{
		Kind:       ParseErrorTimestamp,
		File:       file,
		LineNumber: line,
		Detail:     fmt.Sprintf("%q does not match format %q", rawTimestamp, format),
	}
}

// NewLineError records a line that could not be handled.
func NewLineError(file string, line uint64, reason string) ParseError {
	return ParseError{
		Kind:       ParseErrorLine,
		File:       file,
		LineNumber: line,
		Detail:     reason,
	}
}

// NewReadError records an I/O failure for a file.
func NewReadError(file string, err error) ParseError {
	return ParseError{
		Kind:   ParseErrorRead,
		File:   file,
		Detail: err.Error(),
	}
}

// NewEncodingError records undecodable or truncated content.
func NewEncodingError(file, reason string) ParseError {
	return ParseError{
		Kind:   ParseErrorEncoding,
		File:   file,
		Detail: reason,
	}
}
