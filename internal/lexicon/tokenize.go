package lexicon

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// Tokenize splits free-form text into lower-case tokens. Punctuation is treated
// as whitespace, and combining marks are stripped after NFD decomposition, so
// "Gdańsk!" and "gdansk" produce the same token.
func Tokenize(text string) []string {
	// transformers are stateful, build a fresh chain per call
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	split := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	normalized, _, err := transform.String(normFunc, split)
	if err != nil {
		logrus.Warnf("unicode normalization error: %v", err)
		normalized = split
	}
	return strings.Fields(normalized)
}

// NormalizedText returns the token sequence joined by single spaces
func NormalizedText(text string) string {
	return strings.Join(Tokenize(text), " ")
}
