package sources

import (
	"context"
	"errors"
	"time"

	"github.com/palma21/risk-monitor-bot/internal/models"
)

var (
	// ErrNotFound is returned for a 404, which for user endpoints means a deleted or suspended account
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned for a 403, which for user endpoints means a private profile
	ErrForbidden = errors.New("forbidden")
)

// Filters selects what a collection run fetches
type Filters struct {
	Groups        []string // subreddits, forums, categories
	SearchTerms   []string
	LimitPerQuery int           // per group x term combination
	Since         time.Duration // zero means no age cutoff
}

// AuthorHistory is the recent content of one author
type AuthorHistory struct {
	Status models.AuthorStatus
	Posts  []models.TextRecord
}

// Collector is a content source the pipeline can pull records and author histories from
type Collector interface {
	GetName() string
	IsEnabled() bool
	FetchPosts(ctx context.Context, filters Filters) ([]models.TextRecord, error)
	FetchAuthorPosts(ctx context.Context, author string, window time.Duration) (*AuthorHistory, error)
}

// StatusFor maps a collector error to the author status it implies
func StatusFor(err error) (models.AuthorStatus, bool) {
	switch {
	case errors.Is(err, ErrNotFound):
		return models.StatusDeleted, true
	case errors.Is(err, ErrForbidden):
		return models.StatusPrivate, true
	default:
		return "", false
	}
}
