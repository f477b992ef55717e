package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var quoteReplacer = strings.NewReplacer(
	"\u2018", "'",
	"\u2019", "'",
	"\u201a", "'",
	"\u201b", "'",
	"\u2032", "'",
	"\u201c", `"`,
	"\u201d", `"`,
	"\u201e", `"`,
	"\u2033", `"`,
)

var (
	// "(feat. X)", "[with X]"
	bracketedFeatPattern = regexp.MustCompile(`\s*[\(\[]\s*(?:feat\.?|ft\.?|featuring|with)\s[^\)\]]*[\)\]]`)
	// "Song feat. X" to the end of the string
	trailingFeatPattern = regexp.MustCompile(`\s+(?:feat\.|ft\.|feat|ft|featuring)\s.*$`)
	leadingThePattern   = regexp.MustCompile(`^the\s+`)
	// "r.e.m." -> "rem"
	abbreviationPattern = regexp.MustCompile(`\b(?:[a-z0-9]\.){2,}`)
	bracketPattern      = regexp.MustCompile(`\s*[\(\[\{][^\)\]\}]*[\)\]\}]`)
	// "Song - 2011 Remaster", "Song - Live at Wembley"
	versionSuffixPattern = regexp.MustCompile(`\s+-\s+.*\b(?:remaster(?:ed)?|live|edit|version|mix|mono|stereo|demo|acoustic)\b.*$`)
	partMarkerPattern    = regexp.MustCompile(`\b(?:pt\.?|part)\s*\d+\b`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
)

// Normalize reduces an artist or title to a comparable form.
func Normalize(s string) string {
	s = quoteReplacer.Replace(s)
	s = foldDiacritics(s)
	s = strings.ToLower(s)

	s = bracketedFeatPattern.ReplaceAllString(s, "")
	s = trailingFeatPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&", " and ")
	s = whitespacePattern.ReplaceAllString(strings.TrimSpace(s), " ")
	s = leadingThePattern.ReplaceAllString(s, "")

	s = abbreviationPattern.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, ".", "")
	})

	s = bracketPattern.ReplaceAllString(s, "")
	s = versionSuffixPattern.ReplaceAllString(s, "")
	s = partMarkerPattern.ReplaceAllString(s, "")

	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, " -,:")
	return s
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
