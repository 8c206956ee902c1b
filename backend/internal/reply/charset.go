package reply

import (
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/rivo/uniseg"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"coyote/backend/internal/constants"
)

// gsmBasic is the GSM 03.38 default alphabet. Each character costs one septet.
var gsmBasic = func() map[rune]bool {
	set := map[rune]bool{}
	for _, r := range "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./:;<=>?¡ÄÖÑÜ§¿äöñüà" {
		set[r] = true
	}
	for r := '0'; r <= '9'; r++ {
		set[r] = true
	}
	for r := 'A'; r <= 'Z'; r++ {
		set[r] = true
		set[unicode.ToLower(r)] = true
	}
	return set
}()

// gsmExtension characters are sent as an escape plus one septet
var gsmExtension = map[rune]bool{
	'^': true, '{': true, '}': true, '\\': true, '[': true, ']': true, '~': true, '|': true, '€': true,
}

// typographic maps punctuation phones and keyboards insert to GSM-safe text
var typographic = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
	"“", "\"", "”", "\"", "„", "\"", "‟", "\"", "″", "\"",
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-", "−", "-",
	"…", "...",
	"\u00a0", " ", "\u2007", " ", "\u202f", " ", "\u2009", " ", "\t", " ",
	"•", "*", "·", "*",
)

// stripMarks removes combining accents after canonical decomposition. Chains
// hold buffers, so each call gets its own.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

func isGSM(r rune) bool {
	return gsmBasic[r] || gsmExtension[r]
}

// toGSM7 rewrites s so every character is in the GSM alphabet. Characters
// with no GSM form become '?', one per grapheme cluster.
func toGSM7(s string) string {
	s = typographic.Replace(s)

	var sb strings.Builder
	sb.Grow(len(s))

	state := -1
	rest := s
	for len(rest) > 0 {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		if allGSM(cluster) {
			sb.WriteString(cluster)
			continue
		}
		if stripped, _, err := transform.String(stripMarks(), cluster); err == nil && stripped != "" && allGSM(stripped) {
			sb.WriteString(stripped)
			continue
		}
		sb.WriteByte('?')
	}
	return sb.String()
}

func allGSM(s string) bool {
	for _, r := range s {
		if !isGSM(r) {
			return false
		}
	}
	return true
}

// runeUnits is the cost of r in the charset's units
func runeUnits(r rune, charset string) int {
	if charset == constants.CharsetUCS2 {
		if n := utf16.RuneLen(r); n > 0 {
			return n
		}
		return 1
	}
	if gsmExtension[r] {
		return 2
	}
	return 1
}

// Units is the length of s as the carrier counts it: GSM-7 septets (extension
// characters count twice) or UTF-16 code units for UCS-2.
func Units(s, charset string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r, charset)
	}
	return n
}
