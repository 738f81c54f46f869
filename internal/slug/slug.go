// Package slug derives URL-safe identifiers from display names.
//
// Slugs are persisted as document IDs and compared across runs, so the
// mapping must stay deterministic: the same name yields the same slug on
// every invocation, on every platform.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Norwegian letters transliterate before generic diacritic stripping so
// that ø does not collapse into o via Unicode decomposition alone.
var replacer = strings.NewReplacer(
	"æ", "ae", "Æ", "ae",
	"ø", "o", "Ø", "o",
	"å", "a", "Å", "a",
	"&", "og",
	"/", "-",
)

const stripped = "*+~.()'\"!:@"

// Make converts a display name to a lowercase URL-safe slug.
// Diacritics are normalized, a fixed punctuation set is dropped, and
// path separators and whitespace become hyphens.
func Make(name string) string {
	s := replacer.Replace(strings.TrimSpace(name))

	// NFD-decompose and drop combining marks (é -> e, ü -> u).
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if normalized, _, err := transform.String(t, s); err == nil {
		s = normalized
	}

	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := true // suppress leading hyphens
	for _, r := range s {
		switch {
		case strings.ContainsRune(stripped, r):
			// dropped outright
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastHyphen = false
		default:
			// any other symbol separates words
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}
