package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"
)

func encodeUTF16(s string, bigEndian bool) []byte {
	units := utf16.Encode([]rune(s))
	var out []byte
	if bigEndian {
		out = append(out, 0xFE, 0xFF)
	} else {
		out = append(out, 0xFF, 0xFE)
	}
	for _, u := range units {
		if bigEndian {
			out = append(out, byte(u>>8), byte(u))
		} else {
			out = append(out, byte(u), byte(u>>8))
		}
	}
	return out
}

func TestDecodeBytesUTF8Passthrough(t *testing.T) {
	got, altered := DecodeBytes([]byte("plain utf-8 line\n"))
	if got != "plain utf-8 line\n" {
		t.Errorf("got %q", got)
	}
	if altered {
		t.Error("clean UTF-8 reported as altered")
	}
}

func TestDecodeBytesUTF8BOMStripped(t *testing.T) {
	got, altered := DecodeBytes([]byte("\xEF\xBB\xBFfirst line"))
	if got != "first line" {
		t.Errorf("got %q, want BOM stripped", got)
	}
	if !altered {
		t.Error("BOM strip not reported as altered")
	}
}

func TestDecodeBytesUTF16(t *testing.T) {
	tests := []struct {
		name      string
		bigEndian bool
	}{
		{"little endian", false},
		{"big endian", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodeUTF16("[2024-01-15 14:30:22] Error boom", tt.bigEndian)
			got, altered := DecodeBytes(data)
			if got != "[2024-01-15 14:30:22] Error boom" {
				t.Errorf("got %q", got)
			}
			if !altered {
				t.Error("UTF-16 transcode not reported as altered")
			}
		})
	}
}

func TestDecodeBytesInvalidRepaired(t *testing.T) {
	got, altered := DecodeBytes([]byte{'o', 'k', 0xFF, 0xFE, 'x'})
	// 0xFF here is not a BOM: it is not at the start of the data.
	if !strings.HasPrefix(got, "ok") || !strings.HasSuffix(got, "x") {
		t.Errorf("got %q, want surrounding bytes preserved", got)
	}
	if !strings.Contains(got, "�") {
		t.Errorf("got %q, want replacement rune", got)
	}
	if !altered {
		t.Error("repair not reported as altered")
	}
}

func TestReadFileLossy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	content, altered, err := ReadFileLossy(path)
	if err != nil {
		t.Fatalf("ReadFileLossy: %v", err)
	}
	if content != "line one\nline two\n" {
		t.Errorf("content = %q", content)
	}
	if altered {
		t.Error("clean file reported as altered")
	}
}

func TestReadFileLossyUTF16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "win.log")
	if err := os.WriteFile(path, encodeUTF16("windows log line", false), 0o644); err != nil {
		t.Fatal(err)
	}

	content, altered, err := ReadFileLossy(path)
	if err != nil {
		t.Fatalf("ReadFileLossy: %v", err)
	}
	if content != "windows log line" {
		t.Errorf("content = %q", content)
	}
	if !altered {
		t.Error("UTF-16 file not reported as altered")
	}
}

func TestReadFileLossyMissing(t *testing.T) {
	if _, _, err := ReadFileLossy(filepath.Join(t.TempDir(), "nope.log")); err == nil {
		t.Error("want error for missing file")
	}
}

func TestReadSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.log")
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("line\r\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := ReadSample(path, 20)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if len(lines) != 20 {
		t.Fatalf("lines = %d, want 20", len(lines))
	}
	for i, line := range lines {
		if line != "line" {
			t.Errorf("line %d = %q, want CRLF stripped", i, line)
		}
	}
}

func TestReadSampleShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.log")
	if err := os.WriteFile(path, []byte("a\n\nb"), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := ReadSample(path, 20)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	// Empty lines are kept; the unterminated final line is still read.
	want := []string{"a", "", "b"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestReadSampleEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := ReadSample(path, 20)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("lines = %v, want none", lines)
	}
}

func TestReadSampleMissingFile(t *testing.T) {
	if _, err := ReadSample(filepath.Join(t.TempDir(), "nope.log"), 20); err == nil {
		t.Error("want error for missing file")
	}
}
