package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/palma21/risk-monitor-bot/internal/models"
)

const (
	// HighRiskThreshold is the post score counted as high risk
	HighRiskThreshold = 0.6

	maxWeight  = 0.7
	meanWeight = 0.3

	// DeletedAuthor is the placeholder name sources use for removed accounts
	DeletedAuthor = "[deleted]"
)

// Aggregate builds the risk profile of one author from the posts of this run.
// Authors that are not in the normal status always score zero.
func Aggregate(author string, status models.AuthorStatus, posts []models.LabeledPost) models.UserRiskProfile {
	if status == "" {
		status = models.StatusNormal
	}
	profile := models.UserRiskProfile{
		Author:     author,
		Status:     status,
		TotalPosts: len(posts),
		Tier:       models.TierLow,
	}

	switch {
	case status == models.StatusDeleted:
		profile.Explanation = "deleted_user"
		return profile
	case status == models.StatusPrivate:
		profile.Explanation = "private_profile"
		return profile
	case status == models.StatusNoHistory || len(posts) == 0:
		profile.Status = models.StatusNoHistory
		profile.Explanation = "no post history"
		return profile
	}

	top := posts[0]
	sum := 0.0
	for _, p := range posts {
		sum += p.Score()
		if p.Score() > top.Score() {
			top = p
		}
		if p.Score() >= HighRiskThreshold {
			profile.HighRiskPostCount++
		}
	}
	mean := sum / float64(len(posts))

	score := maxWeight*top.Score() + meanWeight*mean
	profile.UserRiskScore = math.Max(0, math.Min(1, math.Round(score*1e4)/1e4))
	profile.Tier = models.TierFor(profile.UserRiskScore)
	profile.Explanation = explain(profile, top)
	return profile
}

func explain(p models.UserRiskProfile, top models.LabeledPost) string {
	msg := fmt.Sprintf("%d posts, %d high risk; highest %.2f %s", p.TotalPosts, p.HighRiskPostCount,
		top.Score(), top.Classification.Category)
	if len(top.Classification.MatchedTerms) > 0 {
		msg += " (" + strings.Join(top.Classification.MatchedTerms, ", ") + ")"
	}
	if top.Record.ID != "" {
		msg += " in post " + top.Record.ID
	}
	return msg
}

// AggregateAll groups posts by author and aggregates each one. Ignored authors
// are skipped, the deleted placeholder gets the deleted status and authors
// known only from statuses are included with no posts. Profiles are sorted
// by score, highest first.
func AggregateAll(posts []models.LabeledPost, statuses map[string]models.AuthorStatus, ignored []string) []models.UserRiskProfile {
	skip := make(map[string]bool, len(ignored))
	for _, a := range ignored {
		skip[strings.ToLower(strings.TrimSpace(a))] = true
	}

	var order []string
	byAuthor := make(map[string][]models.LabeledPost)
	add := func(author string) bool {
		if author == "" || skip[strings.ToLower(author)] {
			return false
		}
		if _, ok := byAuthor[author]; !ok {
			byAuthor[author] = nil
			order = append(order, author)
		}
		return true
	}

	for _, p := range posts {
		if add(p.Record.Author) {
			byAuthor[p.Record.Author] = append(byAuthor[p.Record.Author], p)
		}
	}
	for author := range statuses {
		add(author)
	}

	profiles := make([]models.UserRiskProfile, 0, len(order))
	for _, author := range order {
		status := statuses[author]
		if author == DeletedAuthor {
			status = models.StatusDeleted
		}
		profiles = append(profiles, Aggregate(author, status, byAuthor[author]))
	}

	sort.SliceStable(profiles, func(i, j int) bool {
		if profiles[i].UserRiskScore != profiles[j].UserRiskScore {
			return profiles[i].UserRiskScore > profiles[j].UserRiskScore
		}
		return profiles[i].Author < profiles[j].Author
	})
	return profiles
}
