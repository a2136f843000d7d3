package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/palma21/risk-monitor-bot/internal/aggregate"
	"github.com/palma21/risk-monitor-bot/internal/config"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/palma21/risk-monitor-bot/internal/notifications"
	"github.com/palma21/risk-monitor-bot/internal/scoring"
	"github.com/palma21/risk-monitor-bot/internal/sources"
	"github.com/palma21/risk-monitor-bot/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	runTimestampFormat = "2006-01-02-15-04-05"
	topUsersLimit      = 10
)

// ErrAllSourcesFailed is returned when no collector produced any records
var ErrAllSourcesFailed = errors.New("all sources failed")

// Service runs collection and monitoring end to end
type Service struct {
	config              *config.Config
	storage             storage.StorageInterface
	notificationService notifications.NotificationInterface
	scorer              *scoring.Scorer
	monitor             *Monitor
	sources             []sources.Collector
	metrics             *Metrics
	mu                  sync.RWMutex
	now                 func() time.Time
}

// Metrics holds run metrics
type Metrics struct {
	TotalPosts        int            `json:"total_posts"`
	HighRiskPosts     int            `json:"high_risk_posts"`
	FlaggedUsers      int            `json:"flagged_users"`
	PromotedAuthors   int            `json:"promoted_authors"`
	EnrichedAuthors   int            `json:"enriched_authors"`
	AlertsSent        int            `json:"alerts_sent"`
	MonitorFailures   int            `json:"monitor_failures"`
	LastRun           time.Time      `json:"last_run"`
	LastRunDuration   string         `json:"last_run_duration"`
	LastMonitorRun    time.Time      `json:"last_monitor_run"`
	SourceMetrics     map[string]int `json:"source_metrics"`
	CategoryBreakdown map[string]int `json:"category_breakdown"`
	ErrorCount        int            `json:"error_count"`
}

// NewService creates a new pipeline service
func NewService(cfg *config.Config, storage storage.StorageInterface, notificationService notifications.NotificationInterface,
	scorer *scoring.Scorer, monitor *Monitor, collectors []sources.Collector) *Service {
	return &Service{
		config:              cfg,
		storage:             storage,
		notificationService: notificationService,
		scorer:              scorer,
		monitor:             monitor,
		sources:             collectors,
		metrics: &Metrics{
			SourceMetrics:     make(map[string]int),
			CategoryBreakdown: make(map[string]int),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// RunCollection fetches candidate posts, scores them, profiles their authors,
// enriches the top authors with their history, persists the run tables,
// promotes high-risk authors and sends the report
func (s *Service) RunCollection(ctx context.Context) error {
	start := time.Now()
	logrus.Info("Starting collection run")
	defer func() { runDuration.WithLabelValues("collection").Observe(time.Since(start).Seconds()) }()

	window := s.config.CollectionWindow()
	filters := sources.Filters{
		Groups:        s.config.TargetSubreddits,
		SearchTerms:   s.config.SearchTerms,
		LimitPerQuery: s.config.LimitPerQuery,
		Since:         window,
	}
	logrus.Infof("Searching %d groups for %d terms in the last %v", len(filters.Groups), len(filters.SearchTerms), window)

	records, perSource, errorCount, enabled := s.collect(ctx, filters)
	logrus.Infof("Collected %d total records from all sources", len(records))
	if enabled > 0 && errorCount == enabled {
		return fmt.Errorf("collection run: %w", ErrAllSourcesFailed)
	}

	s.scorer.ResetRun()
	posts := s.scorer.ScoreBatch(ctx, records)
	profiles := aggregate.AggregateAll(posts, nil, s.config.IgnoredAuthors)
	logrus.Infof("Scored %d posts from %d authors", len(posts), len(profiles))

	enriched := s.monitor.Enrich(ctx, profiles, s.config.EnrichTopUsers, s.config.EnrichWindow)
	errorCount += len(enriched.Failed)
	if len(enriched.Statuses) > 0 {
		profiles = aggregate.AggregateAll(MergePosts(posts, enriched.Posts), enriched.Statuses, s.config.IgnoredAuthors)
	}

	runAt := s.now()
	if err := s.storeRun(runAt, posts, profiles, enriched.Posts); err != nil {
		logrus.Errorf("Failed to store run: %v", err)
		return err
	}

	promoted, err := s.monitor.Promote(ctx, profiles)
	if err != nil {
		// promotion failures do not invalidate the stored run
		logrus.Errorf("Failed to promote some authors: %v", err)
		errorCount++
	}

	report := s.generateReport(runAt, s.config.ReportSchedule, posts, profiles)
	report.Summary["promoted_authors"] = promoted
	report.Summary["enriched_authors"] = len(enriched.Statuses)

	s.updateMetrics(report, perSource, promoted, time.Since(start), errorCount)

	if err := s.notificationService.SendReport(report); err != nil {
		logrus.Errorf("Failed to send report: %v", err)
		return err
	}

	logrus.Infof("Collection run completed in %v", time.Since(start))
	return nil
}

func (s *Service) collect(ctx context.Context, filters sources.Filters) ([]models.TextRecord, map[string]int, int, int) {
	type batch struct {
		source  string
		records []models.TextRecord
	}

	var wg sync.WaitGroup
	batches := make(chan batch, len(s.sources))
	errorsChan := make(chan error, len(s.sources))

	enabled := 0
	for _, source := range s.sources {
		if !source.IsEnabled() {
			logrus.Debugf("Skipping disabled source %s", source.GetName())
			continue
		}
		enabled++

		wg.Add(1)
		go func(src sources.Collector) {
			defer wg.Done()

			logrus.Infof("Fetching posts from %s", src.GetName())
			records, err := src.FetchPosts(ctx, filters)
			if err != nil {
				logrus.Errorf("Error fetching from %s: %v", src.GetName(), err)
				collectionFailures.Inc()
				errorsChan <- err
				return
			}

			logrus.Infof("Found %d posts from %s", len(records), src.GetName())
			batches <- batch{source: src.GetName(), records: records}
		}(source)
	}

	// Close channels when all goroutines complete
	go func() {
		wg.Wait()
		close(batches)
		close(errorsChan)
	}()

	var all []models.TextRecord
	perSource := make(map[string]int)
	for b := range batches {
		all = append(all, b.records...)
		perSource[b.source] += len(b.records)
	}

	errorCount := 0
	for range errorsChan {
		errorCount++
	}

	// sources finish in any order
	sort.SliceStable(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, perSource, errorCount, enabled
}

// RunMonitor checks all monitored authors once, stores and delivers the alerts
func (s *Service) RunMonitor(ctx context.Context) error {
	start := time.Now()
	logrus.Info("Starting monitor run")
	defer func() { runDuration.WithLabelValues("monitor").Observe(time.Since(start).Seconds()) }()

	s.scorer.ResetRun()
	result, err := s.monitor.Run(ctx)
	if err != nil {
		return err
	}

	if len(result.Alerts) > 0 {
		if err := s.storeAlerts(s.now(), result.Alerts); err != nil {
			logrus.Errorf("Failed to store alerts: %v", err)
			return err
		}
		// state already records these posts as alerted, a failed delivery is not retried
		if err := s.notificationService.SendAlerts(result.Alerts); err != nil {
			logrus.Errorf("Failed to deliver %d alerts: %v", len(result.Alerts), err)
		}
	}

	s.mu.Lock()
	s.metrics.AlertsSent += len(result.Alerts)
	s.metrics.MonitorFailures = len(result.Failed)
	s.metrics.LastMonitorRun = s.now()
	s.mu.Unlock()

	logrus.Infof("Monitor run completed in %v", time.Since(start))
	return nil
}

func (s *Service) storeRun(at time.Time, posts []models.LabeledPost, profiles []models.UserRiskProfile, history []models.LabeledPost) error {
	prefix := fmt.Sprintf("runs/%s/", at.Format(runTimestampFormat))

	rows := postRows(posts)
	offensive := OffensiveSubset(posts)
	offensiveRows := postRows(offensive)

	postsCSV, postsErr := storage.LabeledPostsCSV(posts)
	offensiveCSV, offensiveErr := storage.LabeledPostsCSV(offensive)
	usersCSV, usersErr := storage.UserProfilesCSV(profiles)

	steps := []func() error{
		func() error { return storage.WriteJSON(s.storage, prefix+"labeled_posts.json", rows) },
		func() error { return storage.WriteCSV(s.storage, prefix+"labeled_posts.csv", postsCSV, postsErr) },
		func() error { return storage.WriteJSON(s.storage, prefix+"offensive_subset.json", offensiveRows) },
		func() error {
			return storage.WriteCSV(s.storage, prefix+"offensive_subset.csv", offensiveCSV, offensiveErr)
		},
		func() error { return storage.WriteJSON(s.storage, prefix+"users_risk.json", profiles) },
		func() error { return storage.WriteCSV(s.storage, prefix+"users_risk.csv", usersCSV, usersErr) },
	}
	if len(history) > 0 {
		historyCSV, historyErr := storage.LabeledPostsCSV(history)
		steps = append(steps,
			func() error {
				return storage.WriteJSON(s.storage, prefix+"users_enriched_history.json", postRows(history))
			},
			func() error {
				return storage.WriteCSV(s.storage, prefix+"users_enriched_history.csv", historyCSV, historyErr)
			},
		)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("failed to store run %s: %w", prefix, err)
		}
	}

	logrus.Infof("Stored run under %s: %d posts, %d offensive, %d users, %d historical posts",
		prefix, len(posts), len(offensive), len(profiles), len(history))
	return nil
}

func postRows(posts []models.LabeledPost) []models.PostRow {
	rows := make([]models.PostRow, len(posts))
	for i, p := range posts {
		rows[i] = p.Row()
	}
	return rows
}

func (s *Service) storeAlerts(at time.Time, alerts []models.Alert) error {
	name := fmt.Sprintf("alerts/alerts-%s", at.Format(runTimestampFormat))
	if err := storage.WriteJSON(s.storage, name+".json", alerts); err != nil {
		return err
	}
	data, err := storage.AlertsCSV(alerts)
	return storage.WriteCSV(s.storage, name+".csv", data, err)
}

// OffensiveSubset keeps posts with profanity, a high-risk score or a moderation flag
func OffensiveSubset(posts []models.LabeledPost) []models.LabeledPost {
	var out []models.LabeledPost
	for _, p := range posts {
		if p.Profanity.HasProfanity || p.Score() >= aggregate.HighRiskThreshold || p.Moderation.Flagged {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) generateReport(at time.Time, period string, posts []models.LabeledPost, profiles []models.UserRiskProfile) *models.Report {
	report := &models.Report{
		GeneratedAt: at,
		Period:      period,
		TotalPosts:  len(posts),
		Summary:     make(map[string]interface{}),
	}

	categories := make(map[string]int)
	groups := make(map[string]int)
	for _, p := range posts {
		categories[string(p.Classification.Category)]++
		groups[p.Record.SourceGroup]++
		if p.Score() >= aggregate.HighRiskThreshold {
			report.HighRiskPosts = append(report.HighRiskPosts, p)
		}
	}
	sort.SliceStable(report.HighRiskPosts, func(i, j int) bool {
		return report.HighRiskPosts[i].Score() > report.HighRiskPosts[j].Score()
	})

	tiers := make(map[string]int)
	flagged := 0
	for _, p := range profiles {
		tiers[string(p.Tier)]++
		if p.Status == models.StatusNormal && p.UserRiskScore >= s.monitor.cfg.Threshold {
			flagged++
		}
		if p.UserRiskScore > 0 && len(report.TopUsers) < topUsersLimit {
			report.TopUsers = append(report.TopUsers, p)
		}
	}

	report.Summary["categories"] = categories
	report.Summary["groups"] = groups
	report.Summary["user_tiers"] = tiers
	report.Summary["flagged_users"] = flagged
	report.Summary["offensive_posts"] = len(OffensiveSubset(posts))

	return report
}

func (s *Service) updateMetrics(report *models.Report, perSource map[string]int, promoted int, duration time.Duration, errorCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TotalPosts = report.TotalPosts
	s.metrics.HighRiskPosts = len(report.HighRiskPosts)
	s.metrics.FlaggedUsers, _ = report.Summary["flagged_users"].(int)
	s.metrics.PromotedAuthors = promoted
	s.metrics.EnrichedAuthors, _ = report.Summary["enriched_authors"].(int)
	s.metrics.LastRun = report.GeneratedAt
	s.metrics.LastRunDuration = duration.String()
	s.metrics.ErrorCount = errorCount

	// Reset counters
	s.metrics.SourceMetrics = perSource
	s.metrics.CategoryBreakdown = make(map[string]int)
	if categories, ok := report.Summary["categories"].(map[string]int); ok {
		for k, v := range categories {
			s.metrics.CategoryBreakdown[k] = v
		}
	}
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}

// GenerateTestReport creates a report from already labeled posts. Profiles
// are aggregated from the posts when none are given.
func (s *Service) GenerateTestReport(posts []models.LabeledPost, profiles []models.UserRiskProfile) *models.Report {
	if profiles == nil {
		profiles = aggregate.AggregateAll(posts, nil, s.config.IgnoredAuthors)
	}
	return s.generateReport(s.now(), "test", posts, profiles)
}
