package profile

import (
	"fmt"
	"strings"
)

// convertStrftime translates a strftime-style timestamp format into a
// Go time layout. Profiles carry strftime tokens because that is the
// notation log format documentation tends to use. Returns the layout,
// whether the format carries a year token, and an error for tokens Go
// layouts cannot express.
//
// Literal text is passed through unchanged, so literals that collide
// with Go layout tokens (bare digits, month names) would misparse;
// separator characters, the common case, are safe.
func convertStrftime(format string) (string, bool, error) {
	var b strings.Builder
	hasYear := false

	i := 0
	for i < len(format) {
		if format[i] != '%' {
			b.WriteByte(format[i])
			i++
			continue
		}
		if i+1 >= len(format) {
			return "", false, fmt.Errorf("dangling %% at end of format %q", format)
		}

		switch format[i+1] {
		case 'Y':
			b.WriteString("2006")
			hasYear = true
		case 'y':
			b.WriteString("06")
			hasYear = true
		case 'm':
			b.WriteString("01")
		case 'd':
			b.WriteString("02")
		case 'e':
			b.WriteString("_2")
		case 'j':
			b.WriteString("002")
		case 'H':
			b.WriteString("15")
		case 'I':
			b.WriteString("03")
		case 'M':
			b.WriteString("04")
		case 'S':
			b.WriteString("05")
		case 'b', 'h':
			b.WriteString("Jan")
		case 'B':
			b.WriteString("January")
		case 'a':
			b.WriteString("Mon")
		case 'A':
			b.WriteString("Monday")
		case 'p':
			b.WriteString("PM")
		case 'P':
			b.WriteString("pm")
		case 'z':
			b.WriteString("-0700")
		case 'Z':
			b.WriteString("MST")
		case 'T':
			b.WriteString("15:04:05")
		case 'R':
			b.WriteString("15:04")
		case 'F':
			b.WriteString("2006-01-02")
			hasYear = true
		case 'D':
			b.WriteString("01/02/06")
			hasYear = true
		case '%':
			b.WriteByte('%')
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case ':':
			if i+2 < len(format) && format[i+2] == 'z' {
				b.WriteString("-07:00")
				i++
				break
			}
			return "", false, unsupportedToken(format, i)
		case '.':
			// Fractional seconds: %.3f, %.6f, %.9f, or %.f for any width.
			n, layout, err := fractionToken(format, i)
			if err != nil {
				return "", false, err
			}
			b.WriteString(layout)
			i += n
		case 'f':
			// Bare %f is a nine-digit fraction with no separator; the
			// separator is a literal in the format (e.g. ",%f").
			b.WriteString("000000000")
		case '3', '6', '9':
			// %3f, %6f, %9f: fixed-width fractions without separator.
			if i+2 >= len(format) || format[i+2] != 'f' {
				return "", false, unsupportedToken(format, i)
			}
			switch format[i+1] {
			case '3':
				b.WriteString("000")
			case '6':
				b.WriteString("000000")
			case '9':
				b.WriteString("000000000")
			}
			i++
		case '-':
			// Padding suppressed. Go has no unpadded 24-hour token, so
			// %-H cannot be expressed.
			if i+2 >= len(format) {
				return "", false, unsupportedToken(format, i)
			}
			switch format[i+2] {
			case 'd':
				b.WriteString("2")
			case 'm':
				b.WriteString("1")
			case 'I':
				b.WriteString("3")
			case 'M':
				b.WriteString("4")
			case 'S':
				b.WriteString("5")
			default:
				return "", false, unsupportedToken(format, i)
			}
			i++
		case '_':
			if i+2 < len(format) && format[i+2] == 'd' {
				b.WriteString("_2")
				i++
				break
			}
			return "", false, unsupportedToken(format, i)
		default:
			return "", false, unsupportedToken(format, i)
		}
		i += 2
	}

	return b.String(), hasYear, nil
}

// fractionToken consumes a %.Nf sequence starting at the '%'. Returns
// the number of extra bytes consumed beyond the two the caller skips.
func fractionToken(format string, i int) (int, string, error) {
	rest := format[i:]
	switch {
	case strings.HasPrefix(rest, "%.3f"):
		return 2, ".000", nil
	case strings.HasPrefix(rest, "%.6f"):
		return 2, ".000000", nil
	case strings.HasPrefix(rest, "%.9f"):
		return 2, ".000000000", nil
	case strings.HasPrefix(rest, "%.f"):
		return 1, ".999999999", nil
	}
	return 0, "", unsupportedToken(format, i)
}

func unsupportedToken(format string, i int) error {
	end := i + 4
	if end > len(format) {
		end = len(format)
	}
	return fmt.Errorf("unsupported strftime token %q in format %q", format[i:end], format)
}
