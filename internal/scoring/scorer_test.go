package scoring

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/palma21/risk-monitor-bot/internal/classifier"
	"github.com/palma21/risk-monitor-bot/internal/lexicon"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/palma21/risk-monitor-bot/internal/moderation"
	"github.com/palma21/risk-monitor-bot/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls   atomic.Int32
	flagged bool
	err     error
}

func (f *fakeProvider) Classify(ctx context.Context, text string) (*moderation.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &moderation.Result{Flagged: f.flagged, CategoryScores: map[string]float64{"violence": 0.9}}, nil
}

func newTestScorer(t *testing.T, provider moderation.Provider) *Scorer {
	t.Helper()
	lex, err := lexicon.Default()
	require.NoError(t, err)

	var cal *moderation.Calibrator
	if provider != nil {
		p := retry.DefaultPolicy()
		p.Sleep = func(context.Context, time.Duration) error { return nil }
		cal = moderation.NewCalibrator(provider, moderation.Options{RateLimit: 1000, Retry: p})
	}
	return NewScorer(lex, classifier.New(lex, []string{"news", "worldnews"}), cal, 4)
}

func record(id, author, title, body string) models.TextRecord {
	return models.TextRecord{
		ID:          id,
		Author:      author,
		Title:       title,
		Body:        body,
		SourceGroup: "AskReddit",
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestScorer_Score(t *testing.T) {
	s := newTestScorer(t, nil)

	tests := []struct {
		name     string
		rec      models.TextRecord
		category models.ViolenceCategory
		score    float64
		profane  bool
	}{
		{
			name:     "Threat in the title",
			rec:      record("1", "a", "I will kill you tomorrow", ""),
			category: models.CategoryCallToViolence,
			score:    0.9,
		},
		{
			name:     "Profanity without violence",
			rec:      record("2", "a", "Damn", "this shit is broken"),
			category: models.CategoryNone,
			score:    0,
			profane:  true,
		},
		{
			name:     "Clean post",
			rec:      record("3", "a", "Weekend plans", "Going hiking with friends"),
			category: models.CategoryNone,
			score:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := s.Score(context.Background(), tt.rec)
			assert.Equal(t, tt.rec, post.Record)
			assert.Equal(t, tt.category, post.Classification.Category)
			assert.InDelta(t, tt.score, post.Score(), 1e-9)
			assert.Equal(t, tt.profane, post.Profanity.HasProfanity)
			assert.False(t, post.Moderation.Attempted)
			assert.NotEmpty(t, post.Classification.Explanation)
		})
	}
}

func TestScorer_FailsClosed(t *testing.T) {
	s := newTestScorer(t, nil)

	inputs := map[string]models.TextRecord{
		"Empty":        record("e", "a", "", ""),
		"Whitespace":   record("w", "a", "   ", "\n\t"),
		"Invalid utf8": record("u", "a", "\xff\xfe\xfd", "kill"),
		"Punctuation":  record("p", "a", "!!!", "???"),
	}

	for name, rec := range inputs {
		t.Run(name, func(t *testing.T) {
			post := s.Score(context.Background(), rec)
			assert.Equal(t, models.CategoryNone, post.Classification.Category)
			assert.Equal(t, 0.0, post.Score())
			assert.Equal(t, UnparseableExplanation, post.Classification.Explanation)
			assert.Equal(t, rec.ID, post.Record.ID)
		})
	}
}

func TestScorer_Calibration(t *testing.T) {
	t.Run("Flagged threat", func(t *testing.T) {
		provider := &fakeProvider{flagged: true}
		s := newTestScorer(t, provider)

		post := s.Score(context.Background(), record("1", "a", "I will kill you tomorrow", ""))
		assert.True(t, post.Moderation.Attempted)
		assert.True(t, post.Moderation.Flagged)
		assert.GreaterOrEqual(t, post.Score(), moderation.FlaggedScore)
		assert.Equal(t, int32(1), provider.calls.Load())
	})

	t.Run("Low scores skip the provider", func(t *testing.T) {
		provider := &fakeProvider{flagged: true}
		s := newTestScorer(t, provider)

		post := s.Score(context.Background(), record("1", "a", "He was stabbed in the movie", ""))
		assert.False(t, post.Moderation.Attempted)
		assert.Equal(t, int32(0), provider.calls.Load())
	})

	t.Run("Provider failure keeps the heuristic score", func(t *testing.T) {
		provider := &fakeProvider{err: fmt.Errorf("%w: status 401", moderation.ErrPermanent)}
		s := newTestScorer(t, provider)

		post := s.Score(context.Background(), record("1", "a", "I will kill you tomorrow", ""))
		assert.InDelta(t, 0.9, post.Score(), 1e-9)
		assert.Equal(t, models.ErrorKindPermanent, post.Moderation.Error)
		assert.Contains(t, post.Classification.Explanation, moderation.UnavailableMarker)
	})
}

func TestScorer_ScoreBatch(t *testing.T) {
	provider := &fakeProvider{flagged: true}
	s := newTestScorer(t, provider)

	recs := []models.TextRecord{
		record("a", "u1", "I will kill you tomorrow", ""),
		record("b", "u2", "Nice weather", ""),
		record("a", "u1", "duplicate id with different text", ""),
		record("c", "u3", "I will kill you tomorrow", ""),
		record("d", "u4", "", ""),
	}

	posts := s.ScoreBatch(context.Background(), recs)

	require.Len(t, posts, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, []string{posts[0].Record.ID, posts[1].Record.ID, posts[2].Record.ID, posts[3].Record.ID})
	assert.Equal(t, "I will kill you tomorrow", posts[0].Record.Title)
	assert.Equal(t, models.CategoryCallToViolence, posts[0].Classification.Category)
	assert.Equal(t, models.CategoryNone, posts[1].Classification.Category)
	assert.Equal(t, UnparseableExplanation, posts[3].Classification.Explanation)
	// identical texts share one provider call within a run
	assert.Equal(t, int32(1), provider.calls.Load())

	s.ResetRun()
	s.ScoreBatch(context.Background(), recs[:1])
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestDedupe(t *testing.T) {
	recs := []models.TextRecord{{ID: "1", Title: "first"}, {ID: "2"}, {ID: "1", Title: "second"}}
	out := Dedupe(recs)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Title)
	assert.Empty(t, Dedupe(nil))
}
