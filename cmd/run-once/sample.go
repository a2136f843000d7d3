package main

import (
	"context"
	"strings"
	"time"

	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/palma21/risk-monitor-bot/internal/sources"
)

// sampleCollector serves a fixed set of posts, for runs without network access
type sampleCollector struct {
	records []models.TextRecord
}

var _ sources.Collector = (*sampleCollector)(nil)

func newSampleCollector(now time.Time) *sampleCollector {
	post := func(id, author, group, title, body string, age time.Duration) models.TextRecord {
		return models.TextRecord{
			ID:          id,
			Author:      author,
			Title:       title,
			Body:        body,
			SourceGroup: group,
			CreatedAt:   now.Add(-age),
			Language:    "en",
			Permalink:   "https://www.reddit.com/r/" + group + "/comments/" + strings.TrimPrefix(id, "t3_"),
		}
	}

	return &sampleCollector{records: []models.TextRecord{
		post("t3_sample1", "furious_neighbor", "PublicFreakout", "Warning to the guy next door",
			"I will kill you if you park there again!!! You will pay for this", 2*time.Hour),
		post("t3_sample2", "furious_neighbor", "TrueOffMyChest", "Still angry",
			"Honestly the whole street is fine except him", 5*time.Hour),
		post("t3_sample3", "wire_desk", "news", "Police update",
			"Police said the suspect was shot during the robbery, according to a statement", 3*time.Hour),
		post("t3_sample4", "hot_takes", "unpopularopinion", "Unpopular opinion",
			"Those immigrants are vermin and they don't belong here", 8*time.Hour),
		post("t3_sample5", "film_buff", "changemyview", "Violence in movies",
			"The movie had a scene where he was stabbed and it was overdone", 12*time.Hour),
		post("t3_sample6", "AutoModerator", "politics", "Megathread rules",
			"Posts that say kill them all will be removed", time.Hour),
		post("t3_sample7", "beach_day", "AmItheAsshole", "AITA for skipping the party",
			"What a lovely day at the beach, I skipped the party", 20*time.Hour),
	}}
}

func (s *sampleCollector) GetName() string {
	return "sample"
}

func (s *sampleCollector) IsEnabled() bool {
	return true
}

func (s *sampleCollector) FetchPosts(ctx context.Context, filters sources.Filters) ([]models.TextRecord, error) {
	return s.records, nil
}

func (s *sampleCollector) FetchAuthorPosts(ctx context.Context, author string, window time.Duration) (*sources.AuthorHistory, error) {
	history := &sources.AuthorHistory{Status: models.StatusNormal}
	for _, rec := range s.records {
		if rec.Author == author {
			history.Posts = append(history.Posts, rec)
		}
	}
	if len(history.Posts) == 0 {
		history.Status = models.StatusNoHistory
	}
	return history, nil
}
