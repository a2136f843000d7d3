package classifier

import (
	"testing"

	"github.com/palma21/risk-monitor-bot/internal/lexicon"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	lex, err := lexicon.Default()
	require.NoError(t, err)
	return New(lex, []string{"news", "WorldNews"})
}

func TestClassifier_Categories(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name     string
		text     string
		group    string
		category models.ViolenceCategory
		score    float64
	}{
		{
			name:     "Direct threat at the reader",
			text:     "I will kill you tomorrow",
			category: models.CategoryCallToViolence,
			score:    0.9,
		},
		{
			name:     "Deserve construction with third-person target",
			text:     "They deserve to be shot",
			category: models.CategoryCallToViolence,
			score:    0.9,
		},
		{
			name:     "Imperative with target",
			text:     "Kill them all",
			category: models.CategoryCallToViolence,
			score:    0.9,
		},
		{
			name:     "Collective future threat",
			text:     "we will attack them tonight",
			category: models.CategoryCallToViolence,
			score:    0.9,
		},
		{
			name:     "Dehumanizing group",
			text:     "Those immigrants are vermin",
			category: models.CategoryHateSpeech,
			score:    0.75,
		},
		{
			name:     "Self harm",
			text:     "I want to end my life",
			category: models.CategorySelfDirected,
			score:    0.6,
		},
		{
			name:     "Self harm with violent verb",
			text:     "Some days I just want to kill myself",
			category: models.CategorySelfDirected,
			score:    0.6,
		},
		{
			name:     "Narrative violence",
			text:     "The movie had a scene where he was stabbed",
			category: models.CategoryDescriptive,
			score:    0.3,
		},
		{
			name:     "Report outside a news group",
			text:     "Police said the suspect was shot during the robbery",
			group:    "politics",
			category: models.CategoryDescriptive,
			score:    0.3,
		},
		{
			name:     "Nothing violent",
			text:     "What a lovely day at the beach",
			category: models.CategoryNone,
			score:    0,
		},
		{
			name:     "Dehumanizing word without a group is not hate speech",
			text:     "my apartment has rats again",
			category: models.CategoryNone,
			score:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(Input{Text: tt.text, SourceGroup: tt.group})
			assert.Equal(t, tt.category, result.Category, result.Explanation)
			assert.InDelta(t, tt.score, result.Score, 1e-9)
			assert.NotEmpty(t, result.Explanation)
			if tt.score > 0 {
				assert.Contains(t, result.Explanation, string(tt.category))
			}
		})
	}
}

func TestClassifier_DirectThreat(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(Input{Text: "I will kill you tomorrow"})
	assert.Equal(t, models.CategoryCallToViolence, result.Category)
	assert.GreaterOrEqual(t, result.Score, 0.9)
	assert.True(t, result.SecondPersonThreat)
	assert.Equal(t, []string{"kill", "you"}, result.MatchedTerms)
	assert.Contains(t, result.Explanation, "terms=kill, you")
}

func TestClassifier_NewsOverride(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(Input{
		Text:        "Police said the suspect was shot during the robbery",
		SourceGroup: "news",
	})
	assert.Equal(t, models.CategoryNone, result.Category)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, NewsReportExplanation, result.Explanation)
	assert.True(t, result.NewsFiltered)
	assert.Equal(t, []string{"police", "said", "suspect"}, result.ReportingMarkers)

	// group names are case-insensitive
	upper := c.Classify(Input{Text: "Police said the suspect was shot", SourceGroup: "worldnews"})
	assert.True(t, upper.NewsFiltered)
}

func TestClassifier_NewsOverrideIsIdempotent(t *testing.T) {
	c := newTestClassifier(t)

	first := c.Classify(Input{Text: "Officials said two people were killed in the attack", SourceGroup: "news"})
	require.True(t, first.NewsFiltered)

	again := c.Classify(Input{Text: first.Explanation, SourceGroup: "news"})
	assert.Equal(t, models.CategoryNone, again.Category)
	assert.Equal(t, 0.0, again.Score)
}

func TestClassifier_NewsOverrideNeverFiltersDirectThreats(t *testing.T) {
	c := newTestClassifier(t)

	texts := []string{
		"Police said: I will kill you all",
		"Police said: you deserve to be shot",
		"The suspect told reporters: you should be killed",
		"Police said: you will be murdered tonight",
	}

	for _, text := range texts {
		t.Run(text, func(t *testing.T) {
			outside := c.Classify(Input{Text: text, SourceGroup: "politics"})
			inside := c.Classify(Input{Text: text, SourceGroup: "news"})

			assert.False(t, inside.NewsFiltered)
			assert.NotEqual(t, NewsReportExplanation, inside.Explanation)
			assert.Equal(t, models.CategoryCallToViolence, inside.Category, inside.Explanation)
			assert.True(t, inside.SecondPersonThreat)
			assert.GreaterOrEqual(t, inside.Score, 0.9)
			assert.Equal(t, outside.Score, inside.Score)
		})
	}
}

func TestClassifier_SecondPersonSubjectThreats(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		text  string
		terms []string
	}{
		{text: "You will be shot", terms: []string{"shot", "will", "you"}},
		{text: "you deserve to be shot", terms: []string{"shot", "deserve", "you"}},
		{text: "you should be killed", terms: []string{"killed", "should", "you"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			result := c.Classify(Input{Text: tt.text})
			assert.Equal(t, models.CategoryCallToViolence, result.Category, result.Explanation)
			assert.InDelta(t, 0.9, result.Score, 1e-9)
			assert.True(t, result.SecondPersonThreat)
			assert.Equal(t, tt.terms, result.MatchedTerms)
		})
	}

	// a question is not a second-person subject
	question := c.Classify(Input{Text: "Will you attack the problem tomorrow"})
	assert.False(t, question.SecondPersonThreat)
}

func TestClassifier_NewsOverrideRequiresReportingMarkers(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(Input{Text: "The bombing destroyed the market", SourceGroup: "news"})
	assert.False(t, result.NewsFiltered)
	assert.Equal(t, models.CategoryDescriptive, result.Category)
}

func TestClassifier_Bonuses(t *testing.T) {
	c := newTestClassifier(t)

	t.Run("Weapon mention", func(t *testing.T) {
		result := c.Classify(Input{Text: "He was shot with a rifle"})
		assert.Equal(t, models.CategoryDescriptive, result.Category)
		assert.InDelta(t, 0.35, result.Score, 1e-9)
		assert.Contains(t, result.Explanation, "weapon or method mention: rifle")
	})

	t.Run("Repeated profanity", func(t *testing.T) {
		result := c.Classify(Input{
			Text:      "he got stabbed",
			Profanity: models.ProfanitySignal{HasProfanity: true, MatchedTerms: []string{"shit"}, Occurrences: 3},
		})
		assert.InDelta(t, 0.35, result.Score, 1e-9)
		assert.Contains(t, result.Explanation, "repeated profanity")
	})

	t.Run("Capped at one", func(t *testing.T) {
		result := c.Classify(Input{Text: "I WILL KILL YOU WITH A GUN!!!"})
		assert.Equal(t, models.CategoryCallToViolence, result.Category)
		assert.Equal(t, 1.0, result.Score)
		assert.Len(t, result.Bonuses, 3)
	})

	t.Run("No bonus without violence", func(t *testing.T) {
		result := c.Classify(Input{
			Text:      "WHAT A GREAT GAME!!! I LOVE IT",
			Profanity: models.ProfanitySignal{Occurrences: 5},
		})
		assert.Equal(t, models.CategoryNone, result.Category)
		assert.Equal(t, 0.0, result.Score)
		assert.Empty(t, result.Bonuses)
	})
}

func TestClassifier_ScoreBounds(t *testing.T) {
	c := newTestClassifier(t)

	texts := []string{
		"",
		"!!!!!!!!!!!!",
		"KILL KILL KILL YOU YOU YOU WITH GUNS KNIVES BOMBS!!!!!! shit shit shit",
		"those immigrants are vermin and parasites, exterminate them with a pipe bomb!!!",
		"I want to die, I will kill myself with a gun",
		"ordinary text about cooking pasta",
		"éèê attaque",
	}

	for _, text := range texts {
		result := c.Classify(Input{Text: text, Profanity: models.ProfanitySignal{Occurrences: 10}})
		assert.GreaterOrEqual(t, result.Score, 0.0, text)
		assert.LessOrEqual(t, result.Score, 1.0, text)
		assert.NotEmpty(t, result.Explanation, text)
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	c := newTestClassifier(t)
	in := Input{Text: "You people deserve to be shot!!! with a GUN", SourceGroup: "politics"}

	first := c.Classify(in)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, c.Classify(in))
	}
}

func TestCapsWords(t *testing.T) {
	caps, total := capsWords("I WILL find YOU 123 ok")
	assert.Equal(t, 2, caps)
	assert.Equal(t, 5, total)
}
