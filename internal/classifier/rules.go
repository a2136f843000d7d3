package classifier

import (
	"fmt"
	"strings"

	"github.com/palma21/risk-monitor-bot/internal/lexicon"
	"github.com/palma21/risk-monitor-bot/internal/models"
)

// Base scores per category, before intensity bonuses
const (
	BaseCallToViolence = 0.9
	BaseHateSpeech     = 0.75
	BaseSelfDirected   = 0.6
	BaseDescriptive    = 0.3
)

// rule is a pure predicate over the analysed text. The first matching rule
// decides the category, rules are ordered by severity.
type rule struct {
	category models.ViolenceCategory
	base     float64
	match    func(a *analysis) ([]string, bool)
}

func defaultRules() []rule {
	return []rule{
		{category: models.CategoryCallToViolence, base: BaseCallToViolence, match: callToViolence},
		{category: models.CategoryHateSpeech, base: BaseHateSpeech, match: hateSpeech},
		{category: models.CategorySelfDirected, base: BaseSelfDirected, match: selfDirected},
		{category: models.CategoryDescriptive, base: BaseDescriptive, match: descriptive},
	}
}

func callToViolence(a *analysis) ([]string, bool) {
	for _, m := range a.violent {
		before, after := a.before(m), a.after(m)
		leads := a.lex.Has(lexicon.SetImperativeLeads, before)

		// direct threat at the reader: "I will kill you", "go shoot yourself"
		if second := a.find(lexicon.SetSecondPerson, after); len(second) > 0 {
			if a.clauseStart[m.Start] || leads ||
				a.lex.Has(lexicon.SetFirstPerson, before) ||
				a.lex.Has(lexicon.SetThreatModals, before) ||
				a.lex.Has(lexicon.SetFutureModals, before) {
				a.secondPersonThreat = true
				return unique(append([]string{m.Term}, second...)), true
			}
		}

		// "they deserve to be shot", "you should be killed"
		if modals := a.find(lexicon.SetThreatModals, before); len(modals) > 0 {
			if targets := a.targets(a.around(m)); len(targets) > 0 {
				a.markSecondPerson(targets)
				return unique(concat(m.Term, modals, targets)), true
			}
		}

		if futures := a.lex.Find(lexicon.SetFutureModals, before); len(futures) > 0 {
			// "we will attack them"
			if a.lex.Has(lexicon.SetFirstPerson, before) {
				if targets := a.targets(after); len(targets) > 0 {
					a.markSecondPerson(targets)
					return unique(concat(m.Term, lexicon.Terms(futures), targets)), true
				}
			}

			// "you will be murdered"
			if subject := a.subjectBefore(lexicon.SetSecondPerson, before, futures); len(subject) > 0 {
				a.secondPersonThreat = true
				return unique(concat(m.Term, lexicon.Terms(futures), subject)), true
			}
		}

		// "kill them all", "go stab those people"
		if a.imperativeAt(m.Start) && (a.clauseStart[m.Start] || leads) {
			if targets := a.targets(after); len(targets) > 0 {
				a.markSecondPerson(targets)
				return unique(concat(m.Term, nil, targets)), true
			}
		}
	}
	return nil, false
}

// subjectBefore returns terms of the set that occur ahead of the first modal
func (a *analysis) subjectBefore(set string, tokens []string, modals []lexicon.Match) []string {
	var out []lexicon.Match
	for _, s := range a.lex.Find(set, tokens) {
		if s.End <= modals[0].Start {
			out = append(out, s)
		}
	}
	return lexicon.Terms(out)
}

// markSecondPerson flags the analysis when a call to violence targets the reader
func (a *analysis) markSecondPerson(targets []string) {
	for _, t := range targets {
		if a.lex.Contains(lexicon.SetSecondPerson, t) {
			a.secondPersonThreat = true
			return
		}
	}
}

func hateSpeech(a *analysis) ([]string, bool) {
	dehumanizing := a.find(lexicon.SetDehumanizing, a.tokens)
	if len(dehumanizing) == 0 {
		return nil, false
	}
	groups := a.find(lexicon.SetGroupTargets, a.tokens)
	if len(groups) == 0 {
		return nil, false
	}
	return unique(append(dehumanizing, groups...)), true
}

func selfDirected(a *analysis) ([]string, bool) {
	if !a.lex.Has(lexicon.SetFirstPerson, a.tokens) {
		return nil, false
	}
	selfHarm := a.find(lexicon.SetSelfHarm, a.tokens)
	if len(selfHarm) == 0 {
		return nil, false
	}
	return selfHarm, true
}

func descriptive(a *analysis) ([]string, bool) {
	if len(a.violent) == 0 {
		return nil, false
	}
	return lexicon.Terms(a.violent), true
}

// bonus returns a label when its intensity signal is present
type bonus func(a *analysis, in Input) (string, bool)

func defaultBonuses() []bonus {
	return []bonus{repeatedProfanity, exclamationEmphasis, capsEmphasis, weaponMention}
}

func repeatedProfanity(_ *analysis, in Input) (string, bool) {
	if in.Profanity.Occurrences < profanityRepeatMin {
		return "", false
	}
	return fmt.Sprintf("repeated profanity (%d occurrences)", in.Profanity.Occurrences), true
}

func exclamationEmphasis(a *analysis, _ Input) (string, bool) {
	n := strings.Count(a.text, "!")
	if n < exclamationMin {
		return "", false
	}
	return fmt.Sprintf("exclamation emphasis (%d marks)", n), true
}

func capsEmphasis(a *analysis, _ Input) (string, bool) {
	caps, total := capsWords(a.text)
	if caps < capsWordsMin || total == 0 || float64(caps)/float64(total) < capsWordsRatioMin {
		return "", false
	}
	return fmt.Sprintf("all-caps emphasis (%d of %d words)", caps, total), true
}

func weaponMention(a *analysis, _ Input) (string, bool) {
	if len(a.weapons) == 0 {
		return "", false
	}
	return "weapon or method mention: " + strings.Join(lexicon.Terms(a.weapons), ", "), true
}

func concat(term string, groups ...[]string) []string {
	out := []string{term}
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
