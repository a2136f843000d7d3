package lexicon

import "github.com/palma21/risk-monitor-bot/internal/models"

// Matcher produces the profanity signal of a text
type Matcher struct {
	lex *Lexicon
}

// NewMatcher creates a profanity matcher over a shared lexicon
func NewMatcher(lex *Lexicon) *Matcher {
	return &Matcher{lex: lex}
}

// Analyze tokenizes the text and matches it against the profanity set
func (m *Matcher) Analyze(text string) models.ProfanitySignal {
	return m.Match(Tokenize(text))
}

// Match builds the profanity signal from already tokenized text
func (m *Matcher) Match(tokens []string) models.ProfanitySignal {
	matches := m.lex.Find(SetProfanity, tokens)
	terms := Terms(matches)
	return models.ProfanitySignal{
		HasProfanity: len(terms) > 0,
		MatchedTerms: terms,
		Occurrences:  len(matches),
	}
}
