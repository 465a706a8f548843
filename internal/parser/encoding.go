package parser

import (
	"bytes"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Swatto86/LogSleuth/internal/pool"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeBytes converts raw file bytes to a UTF-8 string. UTF-16 files
// are recognised by their BOM and transcoded; a UTF-8 BOM is stripped;
// anything else that is not valid UTF-8 is repaired with replacement
// runes. The second return reports whether the bytes were altered on
// the way in, so callers can surface that a file was not clean UTF-8.
// Decoding never fails: malformed input degrades, it does not error.
func DecodeBytes(data []byte) (string, bool) {
	if bytes.HasPrefix(data, bomUTF16LE) || bytes.HasPrefix(data, bomUTF16BE) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if decoded, _, err := transform.Bytes(dec, data); err == nil {
			return string(decoded), true
		}
		return strings.ToValidUTF8(string(data), string(utf8.RuneError)), true
	}
	if bytes.HasPrefix(data, bomUTF8) {
		data = data[len(bomUTF8):]
		if utf8.Valid(data) {
			return string(data), true
		}
		return strings.ToValidUTF8(string(data), string(utf8.RuneError)), true
	}
	if utf8.Valid(data) {
		return string(data), false
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError)), true
}

// ReadFileLossy reads an entire log file and decodes it via
// DecodeBytes. The boolean reports whether transcoding or repair took
// place.
func ReadFileLossy(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	content, altered := DecodeBytes(data)
	return content, altered, nil
}

// ReadSample reads up to maxLines lines from the start of a file for
// format detection. At most one pooled sample buffer (128KB) is read,
// which is far more than any sane sample needs; a trailing line cut off
// by that cap is dropped rather than returned half-read. Empty lines
// are kept so they count against detection confidence the same way they
// would during parsing.
func ReadSample(path string, maxLines int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := pool.Sample.Get()
	defer pool.Sample.Put(buf)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}

	// DecodeBytes copies into a string, so recycling buf afterwards is
	// safe.
	content, _ := DecodeBytes(buf[:n])
	truncated := n == len(buf) && !strings.HasSuffix(content, "\n")

	lines := make([]string, 0, maxLines)
	rest := content
	for len(rest) > 0 && len(lines) < maxLines {
		line, after, found := strings.Cut(rest, "\n")
		rest = after
		if !found && truncated {
			break
		}
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}
	return lines, nil
}
