package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/palma21/risk-monitor-bot/internal/aggregate"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/palma21/risk-monitor-bot/internal/scoring"
	"github.com/palma21/risk-monitor-bot/internal/sources"
	"github.com/palma21/risk-monitor-bot/internal/state"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// PreviewLength is the number of characters of post text kept in an alert
	PreviewLength = 200

	defaultThreshold = 0.5
	defaultWindow    = 48 * time.Hour
	defaultWorkers   = 4
)

// AuthorFetcher returns the recent content of one author
type AuthorFetcher interface {
	FetchAuthorPosts(ctx context.Context, author string, window time.Duration) (*sources.AuthorHistory, error)
}

// MonitorConfig controls promotion and the per-author checks
type MonitorConfig struct {
	Threshold  float64       // user score at which an author becomes monitored
	Window     time.Duration // how far back each check looks
	MaxAuthors int           // cap on monitored authors, zero means no cap
	Workers    int
	Ignored    []string
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	return c
}

// CollectionError is a failure to fetch the content of one monitored author
type CollectionError struct {
	Author string
	Err    error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("failed to check author %s: %v", e.Author, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// RunResult is the outcome of one monitor run
type RunResult struct {
	Alerts  []models.Alert
	Checked int
	Failed  []*CollectionError
}

// Monitor tracks high-risk authors across runs and alerts on their new content.
// It has no timer of its own, every run is triggered from outside.
type Monitor struct {
	store   state.Store
	fetcher AuthorFetcher
	scorer  *scoring.Scorer
	cfg     MonitorConfig
	ignored map[string]bool
	now     func() time.Time
}

// NewMonitor creates a monitor over a durable state store
func NewMonitor(store state.Store, fetcher AuthorFetcher, scorer *scoring.Scorer, cfg MonitorConfig) *Monitor {
	cfg = cfg.withDefaults()
	ignored := make(map[string]bool, len(cfg.Ignored))
	for _, a := range cfg.Ignored {
		ignored[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return &Monitor{
		store:   store,
		fetcher: fetcher,
		scorer:  scorer,
		cfg:     cfg,
		ignored: ignored,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate computes the next state of a monitored author from the posts of
// one check. Every post scoring above the stored baseline that was not alerted
// before yields exactly one alert. The baseline is refreshed only when the
// author had posts. current is not modified; nil means the author is not
// monitored and nothing happens.
func Evaluate(current *models.AuthorState, posts []models.LabeledPost, profile models.UserRiskProfile, now time.Time) (*models.AuthorState, []models.Alert) {
	if current == nil {
		return nil, nil
	}
	next := current.Clone()

	ordered := make([]models.LabeledPost, len(posts))
	copy(ordered, posts)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Record.CreatedAt.Equal(ordered[j].Record.CreatedAt) {
			return ordered[i].Record.CreatedAt.Before(ordered[j].Record.CreatedAt)
		}
		return ordered[i].Record.ID < ordered[j].Record.ID
	})

	var alerts []models.Alert
	for _, p := range ordered {
		id := p.Record.ID
		if id == "" || p.Score() <= current.Baseline || next.HasAlerted(id) {
			continue
		}
		next.AlertedPosts[id] = true
		alerts = append(alerts, newAlert(current.Author, p, now))
	}

	if profile.Status != "" {
		next.Status = profile.Status
	}
	if len(posts) > 0 && next.Status == models.StatusNormal {
		next.Baseline = profile.UserRiskScore
	}
	next.LastChecked = now
	return next, alerts
}

// AlertID is stable for an author and post, so a redelivered alert keeps its identity
func AlertID(author, postID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("alert:"+author+"/"+postID)).String()
}

func newAlert(author string, p models.LabeledPost, now time.Time) models.Alert {
	return models.Alert{
		ID:          AlertID(author, p.Record.ID),
		Timestamp:   now,
		Author:      author,
		PostID:      p.Record.ID,
		Score:       p.Score(),
		Category:    p.Classification.Category,
		SourceGroup: p.Record.SourceGroup,
		Permalink:   p.Record.Permalink,
		Preview:     preview(p.Record.Text()),
		Explanation: p.Classification.Explanation,
	}
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	return string([]rune(text)[:PreviewLength])
}

// Promote starts monitoring every normal author whose profile reached the
// threshold. Already monitored authors keep their state. New authors are taken
// highest score first until MaxAuthors are monitored. It returns the number of
// authors added.
func (m *Monitor) Promote(ctx context.Context, profiles []models.UserRiskProfile) (int, error) {
	candidates := make([]models.UserRiskProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.Status != models.StatusNormal || p.UserRiskScore < m.cfg.Threshold || m.isIgnored(p.Author) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UserRiskScore > candidates[j].UserRiskScore
	})

	current, err := m.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load monitor state: %w", err)
	}
	monitored := len(current.Authors)

	added := 0
	var errs []error
	now := m.now()
	for i, p := range candidates {
		if _, ok := current.Authors[p.Author]; ok {
			continue
		}
		if m.cfg.MaxAuthors > 0 && monitored >= m.cfg.MaxAuthors {
			logrus.Warnf("Monitored author cap of %d reached, skipping %d remaining candidates",
				m.cfg.MaxAuthors, len(candidates)-i)
			break
		}

		created := false
		err := m.store.Update(ctx, p.Author, func(cur *models.AuthorState) (*models.AuthorState, error) {
			created = false
			if cur != nil {
				return nil, nil
			}
			created = true
			return models.NewAuthorState(p.Author, p.UserRiskScore, now), nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to promote %s: %w", p.Author, err))
			continue
		}
		if created {
			added++
			monitored++
			logrus.WithFields(logrus.Fields{
				"author":   p.Author,
				"baseline": p.UserRiskScore,
			}).Info("Author promoted to monitoring")
		}
	}

	monitoredAuthors.Set(float64(monitored))
	return added, errors.Join(errs...)
}

// Run checks every monitored author once. A failure for one author is logged
// and recorded in the result, its state is left untouched and the other
// authors are still processed. The error is only set when the state itself
// could not be loaded.
func (m *Monitor) Run(ctx context.Context) (*RunResult, error) {
	current, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load monitor state: %w", err)
	}

	authors := make([]string, 0, len(current.Authors))
	for author := range current.Authors {
		authors = append(authors, author)
	}
	sort.Strings(authors)
	monitoredAuthors.Set(float64(len(authors)))

	result := &RunResult{}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.Workers)
	for _, author := range authors {
		author := author
		g.Go(func() error {
			alerts, err := m.checkAuthor(ctx, author)

			mu.Lock()
			defer mu.Unlock()
			result.Checked++
			if err != nil {
				collectionFailures.Inc()
				logrus.WithField("author", author).Errorf("Skipping monitored author: %v", err)
				result.Failed = append(result.Failed, &CollectionError{Author: author, Err: err})
				return nil
			}
			result.Alerts = append(result.Alerts, alerts...)
			return nil
		})
	}
	_ = g.Wait()

	sortAlerts(result.Alerts)
	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].Author < result.Failed[j].Author
	})
	alertsEmitted.Add(float64(len(result.Alerts)))

	logrus.Infof("Monitor run checked %d authors: %d alerts, %d failures",
		result.Checked, len(result.Alerts), len(result.Failed))
	return result, nil
}

func (m *Monitor) checkAuthor(ctx context.Context, author string) ([]models.Alert, error) {
	status, posts, err := m.history(ctx, author, m.cfg.Window)
	if err != nil {
		return nil, err
	}

	profile := aggregate.Aggregate(author, status, posts)
	now := m.now()

	var alerts []models.Alert
	err = m.store.Update(ctx, author, func(cur *models.AuthorState) (*models.AuthorState, error) {
		var next *models.AuthorState
		next, alerts = Evaluate(cur, posts, profile, now)
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update state: %w", err)
	}
	return alerts, nil
}

func (m *Monitor) isIgnored(author string) bool {
	return author == "" || author == aggregate.DeletedAuthor || m.ignored[strings.ToLower(author)]
}

func sortAlerts(alerts []models.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if !alerts[i].Timestamp.Equal(alerts[j].Timestamp) {
			return alerts[i].Timestamp.Before(alerts[j].Timestamp)
		}
		if alerts[i].Author != alerts[j].Author {
			return alerts[i].Author < alerts[j].Author
		}
		return alerts[i].PostID < alerts[j].PostID
	})
}
