package classifier

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/palma21/risk-monitor-bot/internal/lexicon"
	"github.com/palma21/risk-monitor-bot/internal/models"
)

const (
	// BonusIncrement is added for every intensity signal that applies
	BonusIncrement = 0.05

	// NewsReportExplanation is the full explanation of a filtered news post
	NewsReportExplanation = "classified as news report"

	contextWindow         = 4
	profanityRepeatMin    = 3
	exclamationMin        = 3
	capsWordsMin          = 2
	capsWordsRatioMin     = 0.2
	capsWordMinLetters    = 3
	noViolenceExplanation = "no violent language detected"
)

var (
	clauseSeparators = regexp.MustCompile(`[.!?;:\n]+`)
	quotationMarks   = regexp.MustCompile(`["“”«»]`)
)

// Input is everything the classifier looks at for one record
type Input struct {
	Text        string
	SourceGroup string
	Profanity   models.ProfanitySignal
}

// Classifier assigns a violence category and score with ordered, explainable rules
type Classifier struct {
	lex        *lexicon.Lexicon
	newsGroups map[string]bool
	rules      []rule
	bonuses    []bonus
}

// New creates a classifier over a shared lexicon. Posts from newsGroups that
// read like reports are filtered to a zero score.
func New(lex *lexicon.Lexicon, newsGroups []string) *Classifier {
	groups := make(map[string]bool, len(newsGroups))
	for _, g := range newsGroups {
		g = strings.ToLower(strings.TrimSpace(g))
		if g != "" {
			groups[g] = true
		}
	}

	return &Classifier{
		lex:        lex,
		newsGroups: groups,
		rules:      defaultRules(),
		bonuses:    defaultBonuses(),
	}
}

// IsNewsGroup reports whether the source group is a designated news context
func (c *Classifier) IsNewsGroup(group string) bool {
	return c.newsGroups[strings.ToLower(strings.TrimSpace(group))]
}

// Classify runs the rule chain, applies intensity bonuses, then the news override
func (c *Classifier) Classify(in Input) models.Classification {
	a := c.analyze(in.Text)

	result := models.Classification{
		Category:         models.CategoryNone,
		ReportingMarkers: a.reportingMarkers(),
	}

	var evidence []string
	base := 0.0
	for _, r := range c.rules {
		if terms, ok := r.match(a); ok {
			result.Category = r.category
			base = r.base
			evidence = terms
			break
		}
	}
	result.SecondPersonThreat = result.Category == models.CategoryCallToViolence && a.secondPersonThreat

	if c.IsNewsGroup(in.SourceGroup) && len(result.ReportingMarkers) > 0 &&
		!result.SecondPersonThreat && !a.secondPersonAddress() {
		return models.Classification{
			Category:         models.CategoryNone,
			Score:            0,
			Explanation:      NewsReportExplanation,
			ReportingMarkers: result.ReportingMarkers,
			NewsFiltered:     true,
		}
	}

	if result.Category == models.CategoryNone {
		result.Explanation = "category=none; " + noViolenceExplanation
		return result
	}

	score := base
	for _, b := range c.bonuses {
		if label, ok := b(a, in); ok {
			score += BonusIncrement
			result.Bonuses = append(result.Bonuses, label)
		}
	}

	result.Score = clamp(score)
	result.MatchedTerms = evidence
	result.Explanation = explain(result)
	return result
}

func explain(c models.Classification) string {
	parts := []string{"category=" + string(c.Category)}
	if len(c.MatchedTerms) > 0 {
		parts = append(parts, "terms="+strings.Join(c.MatchedTerms, ", "))
	}
	if len(c.ReportingMarkers) > 0 {
		parts = append(parts, "reporting="+strings.Join(c.ReportingMarkers, ", "))
	}
	for _, b := range c.Bonuses {
		parts = append(parts, fmt.Sprintf("bonus: %s (+%.2f)", b, BonusIncrement))
	}
	return strings.Join(parts, "; ")
}

// clamp keeps scores in [0,1] and drops float noise from repeated increments
func clamp(score float64) float64 {
	score = math.Round(score*1e4) / 1e4
	return math.Max(0, math.Min(1, score))
}

// analysis holds the token-level view of one text
type analysis struct {
	lex         *lexicon.Lexicon
	text        string
	tokens      []string
	clauseStart map[int]bool

	violent     []lexicon.Match
	imperatives []lexicon.Match
	weapons     []lexicon.Match
	markers     []lexicon.Match

	secondPersonThreat bool
}

func (c *Classifier) analyze(text string) *analysis {
	a := &analysis{
		lex:         c.lex,
		text:        text,
		clauseStart: make(map[int]bool),
	}

	for _, clause := range clauseSeparators.Split(text, -1) {
		toks := lexicon.Tokenize(clause)
		if len(toks) == 0 {
			continue
		}
		a.clauseStart[len(a.tokens)] = true
		a.tokens = append(a.tokens, toks...)
	}

	a.violent = c.lex.Find(lexicon.SetViolentActions, a.tokens)
	a.imperatives = c.lex.Find(lexicon.SetViolentImperatives, a.tokens)
	a.weapons = c.lex.Find(lexicon.SetWeapons, a.tokens)
	a.markers = c.lex.Find(lexicon.SetReportingMarkers, a.tokens)
	return a
}

func (a *analysis) before(m lexicon.Match) []string {
	return a.tokens[max(0, m.Start-contextWindow):m.Start]
}

func (a *analysis) after(m lexicon.Match) []string {
	return a.tokens[m.End:min(len(a.tokens), m.End+contextWindow)]
}

func (a *analysis) around(m lexicon.Match) []string {
	return a.tokens[max(0, m.Start-contextWindow):min(len(a.tokens), m.End+contextWindow)]
}

func (a *analysis) find(set string, tokens []string) []string {
	return lexicon.Terms(a.lex.Find(set, tokens))
}

// targets returns second-person, third-person and group-identity terms
func (a *analysis) targets(tokens []string) []string {
	var out []string
	out = append(out, a.find(lexicon.SetSecondPerson, tokens)...)
	out = append(out, a.find(lexicon.SetThirdPerson, tokens)...)
	out = append(out, a.find(lexicon.SetGroupTargets, tokens)...)
	return out
}

// secondPersonAddress reports a violent action aimed at the reader, with the
// reader either as object ("kill you") or as subject ("you will be shot")
func (a *analysis) secondPersonAddress() bool {
	for _, m := range a.violent {
		if a.lex.Has(lexicon.SetSecondPerson, a.around(m)) {
			return true
		}
	}
	return false
}

func (a *analysis) reportingMarkers() []string {
	markers := lexicon.Terms(a.markers)
	if quotationMarks.MatchString(a.text) {
		markers = append(markers, "quotation")
	}
	return markers
}

func (a *analysis) imperativeAt(start int) bool {
	for _, m := range a.imperatives {
		if m.Start == start {
			return true
		}
	}
	return false
}

// capsWords counts fully upper-case words of at least capsWordMinLetters letters
func capsWords(text string) (caps, total int) {
	for _, word := range strings.Fields(text) {
		letters, upper := 0, 0
		for _, r := range word {
			if unicode.IsLetter(r) {
				letters++
				if unicode.IsUpper(r) {
					upper++
				}
			}
		}
		if letters == 0 {
			continue
		}
		total++
		if letters >= capsWordMinLetters && upper == letters {
			caps++
		}
	}
	return caps, total
}

func unique(in []string) []string {
	return lexicon.Terms(toMatches(in))
}

func toMatches(terms []string) []lexicon.Match {
	out := make([]lexicon.Match, len(terms))
	for i, t := range terms {
		out[i] = lexicon.Match{Term: t}
	}
	return out
}
