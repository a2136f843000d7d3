package lexicon

import (
	"bufio"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Term set names understood by the classifier
const (
	SetProfanity          = "profanity"
	SetViolentActions     = "violent_actions"
	SetViolentImperatives = "violent_imperatives"
	SetDehumanizing       = "dehumanizing"
	SetGroupTargets       = "group_targets"
	SetSelfHarm           = "self_harm"
	SetWeapons            = "weapons"
	SetReportingMarkers   = "reporting_markers"
	SetFirstPerson        = "first_person"
	SetSecondPerson       = "second_person"
	SetThirdPerson        = "third_person"
	SetThreatModals       = "threat_modals"
	SetFutureModals       = "future_modals"
	SetImperativeLeads    = "imperative_leads"
)

//go:embed data/lexicon.json
var defaultLexiconJSON []byte

//go:embed data/profanity_en.txt
var defaultProfanity string

// Match is one lexicon hit over a token sequence, covering tokens[Start:End]
type Match struct {
	Term  string
	Start int
	End   int
}

type termSet struct {
	terms  map[string]struct{}
	maxLen int
}

// Lexicon is an immutable collection of named term sets. It is built once per
// process and shared read-only between goroutines.
type Lexicon struct {
	sets map[string]*termSet
}

// New builds a lexicon from raw terms. Every term is tokenized the same way as
// scored text, so "Son-of-a-Bitch" is stored as the phrase "son of a bitch".
func New(raw map[string][]string) *Lexicon {
	lex := &Lexicon{sets: make(map[string]*termSet, len(raw))}
	for name, terms := range raw {
		set := &termSet{terms: make(map[string]struct{}, len(terms))}
		for _, term := range terms {
			tokens := Tokenize(term)
			if len(tokens) == 0 {
				continue
			}
			set.terms[strings.Join(tokens, " ")] = struct{}{}
			if len(tokens) > set.maxLen {
				set.maxLen = len(tokens)
			}
		}
		lex.sets[name] = set
	}
	return lex
}

// Default returns the lexicon embedded in the binary
func Default() (*Lexicon, error) {
	return Load("", "")
}

// Load reads a lexicon from a JSON file of set name to terms and a profanity
// list with one term per line. Empty paths fall back to the embedded defaults.
func Load(lexiconPath, profanityPath string) (*Lexicon, error) {
	raw, err := readLexiconJSON(lexiconPath)
	if err != nil {
		return nil, err
	}

	profanity, err := readProfanity(profanityPath)
	if err != nil {
		return nil, err
	}
	raw[SetProfanity] = append(raw[SetProfanity], profanity...)

	return New(raw), nil
}

func readLexiconJSON(path string) (map[string][]string, error) {
	data := defaultLexiconJSON
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read lexicon %s: %w", path, err)
		}
		data = b
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	if raw == nil {
		raw = make(map[string][]string)
	}
	return raw, nil
}

func readProfanity(path string) ([]string, error) {
	if path == "" {
		return ParseTerms(strings.NewReader(defaultProfanity))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profanity list %s: %w", path, err)
	}
	defer f.Close()

	return ParseTerms(f)
}

// ParseTerms reads one term per line, skipping blank lines and # comments
func ParseTerms(r io.Reader) ([]string, error) {
	var terms []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, strings.ToLower(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read terms: %w", err)
	}
	return terms, nil
}

// Find returns every occurrence of a term from the named set in the token
// sequence, ordered by start position. Matching happens on whole tokens only,
// multi-word terms are found with sliding windows up to the longest phrase.
func (l *Lexicon) Find(set string, tokens []string) []Match {
	ts, ok := l.sets[set]
	if !ok || len(ts.terms) == 0 {
		return nil
	}

	var matches []Match
	for i := range tokens {
		for n := 1; n <= ts.maxLen && i+n <= len(tokens); n++ {
			candidate := tokens[i]
			if n > 1 {
				candidate = strings.Join(tokens[i:i+n], " ")
			}
			if _, hit := ts.terms[candidate]; hit {
				matches = append(matches, Match{Term: candidate, Start: i, End: i + n})
			}
		}
	}
	return matches
}

// Has reports whether any term of the set occurs in the tokens
func (l *Lexicon) Has(set string, tokens []string) bool {
	return len(l.Find(set, tokens)) > 0
}

// Contains reports whether a single normalized term is in the set
func (l *Lexicon) Contains(set, term string) bool {
	ts, ok := l.sets[set]
	if !ok {
		return false
	}
	_, hit := ts.terms[term]
	return hit
}

// Size returns the number of terms in the set
func (l *Lexicon) Size(set string) int {
	ts, ok := l.sets[set]
	if !ok {
		return 0
	}
	return len(ts.terms)
}

// Sets returns the sorted names of all term sets
func (l *Lexicon) Sets() []string {
	names := make([]string, 0, len(l.sets))
	for name := range l.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Terms returns the distinct matched terms in first-occurrence order
func Terms(matches []Match) []string {
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m.Term] {
			continue
		}
		seen[m.Term] = true
		out = append(out, m.Term)
	}
	return out
}
