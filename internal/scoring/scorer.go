package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/palma21/risk-monitor-bot/internal/classifier"
	"github.com/palma21/risk-monitor-bot/internal/lexicon"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/palma21/risk-monitor-bot/internal/moderation"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrUnparseable is logged when a record cannot be scored
var ErrUnparseable = errors.New("unparseable content")

// UnparseableExplanation is the explanation of a record that failed closed
const UnparseableExplanation = "unparseable content"

const defaultWorkers = 8

// Scorer runs lexicon matching, classification and optional calibration for records
type Scorer struct {
	matcher    *lexicon.Matcher
	classifier *classifier.Classifier
	calibrator *moderation.Calibrator
	workers    int
}

// NewScorer creates a scorer. calibrator may be nil when no provider is configured.
func NewScorer(lex *lexicon.Lexicon, cls *classifier.Classifier, calibrator *moderation.Calibrator, workers int) *Scorer {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Scorer{
		matcher:    lexicon.NewMatcher(lex),
		classifier: cls,
		calibrator: calibrator,
		workers:    workers,
	}
}

// ResetRun starts a new run scope for the calibration cache
func (s *Scorer) ResetRun() {
	s.calibrator.Reset()
}

// Score labels one record. It never fails: bad input yields a zero score
// with an explanation.
func (s *Scorer) Score(ctx context.Context, rec models.TextRecord) (post models.LabeledPost) {
	post = models.LabeledPost{Record: rec}

	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("post_id", rec.ID).Errorf("Scoring panicked, failing closed: %v", r)
			post = unparseable(rec)
		}
	}()

	text := rec.Text()
	tokens, err := parse(text)
	if err != nil {
		logrus.WithField("post_id", rec.ID).Debugf("Skipping record: %v", err)
		postsScored.WithLabelValues(string(models.CategoryNone)).Inc()
		return unparseable(rec)
	}

	post.Profanity = s.matcher.Match(tokens)
	cls := s.classifier.Classify(classifier.Input{
		Text:        text,
		SourceGroup: rec.SourceGroup,
		Profanity:   post.Profanity,
	})
	post.Classification, post.Moderation = s.calibrator.Calibrate(ctx, text, cls)

	postsScored.WithLabelValues(string(post.Classification.Category)).Inc()
	return post
}

// ScoreBatch de-duplicates records by ID and scores them in parallel. The
// output keeps the order of first occurrence.
func (s *Scorer) ScoreBatch(ctx context.Context, recs []models.TextRecord) []models.LabeledPost {
	unique := Dedupe(recs)
	out := make([]models.LabeledPost, len(unique))

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i, rec := range unique {
		i, rec := i, rec
		g.Go(func() error {
			out[i] = s.Score(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// Dedupe drops records whose ID was already seen, keeping the first occurrence
func Dedupe(recs []models.TextRecord) []models.TextRecord {
	seen := make(map[string]bool, len(recs))
	unique := make([]models.TextRecord, 0, len(recs))
	for _, rec := range recs {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		unique = append(unique, rec)
	}
	return unique
}

func parse(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrUnparseable)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrUnparseable)
	}
	tokens := lexicon.Tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no words", ErrUnparseable)
	}
	return tokens, nil
}

func unparseable(rec models.TextRecord) models.LabeledPost {
	return models.LabeledPost{
		Record: rec,
		Classification: models.Classification{
			Category:    models.CategoryNone,
			Score:       0,
			Explanation: UnparseableExplanation,
		},
	}
}
