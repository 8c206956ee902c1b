package reply

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	"coyote/backend/internal/constants"
)

// Formatter fits an answer into one SMS. It is pure and safe for concurrent use.
type Formatter struct {
	maxLength int
	charset   string
	marker    string
}

// NewFormatter creates a formatter for the given length budget and charset.
// Unknown charsets fall back to GSM-7.
func NewFormatter(maxLength int, charset string) *Formatter {
	if charset != constants.CharsetUCS2 {
		charset = constants.CharsetGSM7
	}
	if maxLength <= 0 {
		maxLength = constants.SMSMaxLength
	}
	return &Formatter{
		maxLength: maxLength,
		charset:   charset,
		marker:    constants.TruncationMarker,
	}
}

// MaxLength returns the length budget in charset units
func (f *Formatter) MaxLength() int {
	return f.maxLength
}

// Charset returns the charset the formatter writes
func (f *Formatter) Charset() string {
	return f.charset
}

// Format normalises text to the charset and shortens it to the budget. Text
// that already fits is returned as is, so Format(Format(x)) == Format(x).
func (f *Formatter) Format(text string) string {
	if f.charset == constants.CharsetGSM7 {
		text = toGSM7(text)
	}
	if Units(text, f.charset) <= f.maxLength {
		return text
	}

	budget := f.maxLength - Units(f.marker, f.charset)
	if budget <= 0 {
		return f.cut(text, f.maxLength, false)
	}
	return f.cut(text, budget, true) + f.marker
}

// cut returns the longest prefix of text within budget units. With preferWords
// the prefix ends before the last whitespace that fits; otherwise, or when no
// such whitespace exists, it ends at the last grapheme boundary that fits.
func (f *Formatter) cut(text string, budget int, preferWords bool) string {
	used := 0
	lastBoundary := 0
	lastSpace := -1

	state := -1
	offset := 0
	rest := text
	for len(rest) > 0 {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)

		units := Units(cluster, f.charset)
		if used+units > budget {
			if isSpace(cluster) {
				lastSpace = offset
			}
			break
		}
		if isSpace(cluster) {
			lastSpace = offset
		}
		used += units
		offset += len(cluster)
		lastBoundary = offset
	}

	if preferWords && lastSpace > 0 {
		if words := strings.TrimRightFunc(text[:lastSpace], unicode.IsSpace); words != "" {
			return words
		}
	}
	return strings.TrimRightFunc(text[:lastBoundary], unicode.IsSpace)
}

func isSpace(cluster string) bool {
	r, _ := utf8.DecodeRuneInString(cluster)
	return unicode.IsSpace(r)
}
