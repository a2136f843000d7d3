package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/palma21/risk-monitor-bot/internal/sources"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Enrichment is the scored history of the top authors of a collection run
type Enrichment struct {
	Authors  []string
	Posts    []models.LabeledPost
	Statuses map[string]models.AuthorStatus
	Failed   []*CollectionError
}

// Enrich fetches and scores the history of the first limit profiles. Profiles
// must already be sorted by score. Authors whose history cannot be fetched
// keep their run profile and are reported in Failed.
func (m *Monitor) Enrich(ctx context.Context, profiles []models.UserRiskProfile, limit int, window time.Duration) *Enrichment {
	out := &Enrichment{Statuses: make(map[string]models.AuthorStatus)}
	if limit <= 0 {
		return out
	}

	for _, p := range profiles {
		if len(out.Authors) == limit {
			break
		}
		if p.Status != models.StatusNormal || m.isIgnored(p.Author) {
			continue
		}
		out.Authors = append(out.Authors, p.Author)
	}
	if len(out.Authors) == 0 {
		return out
	}
	logrus.Infof("Enriching %d authors with %v of history", len(out.Authors), window)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, author := range out.Authors {
		author := author
		g.Go(func() error {
			status, posts, err := m.history(gctx, author, window)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				collectionFailures.Inc()
				logrus.WithField("author", author).Warnf("Skipping history enrichment: %v", err)
				out.Failed = append(out.Failed, &CollectionError{Author: author, Err: err})
				return nil
			}
			out.Statuses[author] = status
			out.Posts = append(out.Posts, posts...)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(out.Posts, func(i, j int) bool {
		if out.Posts[i].Record.Author != out.Posts[j].Record.Author {
			return out.Posts[i].Record.Author < out.Posts[j].Record.Author
		}
		return out.Posts[i].Record.ID < out.Posts[j].Record.ID
	})
	sort.Slice(out.Failed, func(i, j int) bool {
		return out.Failed[i].Author < out.Failed[j].Author
	})

	logrus.Infof("Enriched %d authors: %d historical posts, %d failures",
		len(out.Statuses), len(out.Posts), len(out.Failed))
	return out
}

func (m *Monitor) history(ctx context.Context, author string, window time.Duration) (models.AuthorStatus, []models.LabeledPost, error) {
	history, err := m.fetcher.FetchAuthorPosts(ctx, author, window)
	if err != nil {
		status, ok := sources.StatusFor(err)
		if !ok {
			return "", nil, err
		}
		return status, nil, nil
	}
	if history == nil {
		return models.StatusNormal, nil, nil
	}

	status := history.Status
	if status == "" {
		status = models.StatusNormal
	}
	return status, m.scorer.ScoreBatch(ctx, history.Posts), nil
}

// MergePosts appends historical posts to the run posts, skipping IDs the run
// already holds
func MergePosts(run, history []models.LabeledPost) []models.LabeledPost {
	seen := make(map[string]bool, len(run))
	out := make([]models.LabeledPost, 0, len(run)+len(history))
	for _, p := range run {
		seen[p.Record.ID] = true
		out = append(out, p)
	}
	for _, p := range history {
		if seen[p.Record.ID] {
			continue
		}
		seen[p.Record.ID] = true
		out = append(out, p)
	}
	return out
}
