// Package app wires configuration into the running pipeline
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/palma21/risk-monitor-bot/internal/classifier"
	"github.com/palma21/risk-monitor-bot/internal/config"
	"github.com/palma21/risk-monitor-bot/internal/lexicon"
	"github.com/palma21/risk-monitor-bot/internal/moderation"
	"github.com/palma21/risk-monitor-bot/internal/monitoring"
	"github.com/palma21/risk-monitor-bot/internal/notifications"
	"github.com/palma21/risk-monitor-bot/internal/scoring"
	"github.com/palma21/risk-monitor-bot/internal/sources"
	"github.com/palma21/risk-monitor-bot/internal/state"
	"github.com/palma21/risk-monitor-bot/internal/storage"
	"github.com/sirupsen/logrus"
)

// Components is the assembled pipeline
type Components struct {
	Storage storage.StorageInterface
	State   state.Store
	Scorer  *scoring.Scorer
	Reddit  *sources.RedditSource
	Monitor *monitoring.Monitor
	Service *monitoring.Service

	closers []io.Closer
}

// NewScorer loads the lexicon and builds the scorer. Calibration is enabled
// only when a moderation API key is configured.
func NewScorer(cfg *config.Config) (*scoring.Scorer, error) {
	lex, err := lexicon.Load(cfg.LexiconPath, cfg.ProfanityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load lexicon: %w", err)
	}
	logrus.Infof("Loaded lexicon with %d term sets", len(lex.Sets()))

	var calibrator *moderation.Calibrator
	if cfg.ModerationEnabled() {
		provider := moderation.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.ModerationModel, cfg.ModerationURL)
		calibrator = moderation.NewCalibrator(provider, moderation.Options{
			RateLimit:  cfg.ModerationRateLimit,
			RateWindow: cfg.ModerationRateWindow,
			Timeout:    cfg.ModerationTimeout,
			CacheSize:  cfg.ModerationCacheSize,
		})
		logrus.Infof("Moderation calibration enabled with model %s", cfg.ModerationModel)
	} else {
		logrus.Info("OPENAI_API_KEY not set, moderation calibration disabled")
	}

	return scoring.NewScorer(lex, classifier.New(lex, cfg.NewsGroups), calibrator, cfg.ScoringWorkers), nil
}

// NewStorage opens the configured blob backend
func NewStorage(cfg *config.Config) (storage.StorageInterface, error) {
	switch cfg.StorageBackend {
	case "azure":
		return storage.NewAzureStorage(cfg.StorageAccount, cfg.StorageContainer)
	default:
		return storage.NewLocalStorage(cfg.LocalDataDir)
	}
}

// NewStateStore opens the configured monitor state backend. The returned
// closer is nil when there is nothing to release.
func NewStateStore(ctx context.Context, cfg *config.Config, blobs storage.StorageInterface) (state.Store, io.Closer, error) {
	if cfg.StateBackend == "redis" {
		store, err := state.NewRedisStoreFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	return state.NewBlobStore(blobs), nil, nil
}

// Build assembles every component from configuration
func Build(ctx context.Context, cfg *config.Config, notifier notifications.NotificationInterface) (*Components, error) {
	blobs, err := NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	store, closer, err := NewStateStore(ctx, cfg, blobs)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize monitor state: %w", err)
	}

	scorer, err := NewScorer(cfg)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	reddit := sources.NewRedditSource(cfg.RedditClientID, cfg.RedditClientSecret, cfg.RedditUserAgent)
	monitor := monitoring.NewMonitor(store, reddit, scorer, monitoring.MonitorConfig{
		Threshold:  cfg.MonitorThreshold,
		Window:     cfg.MonitorWindow,
		MaxAuthors: cfg.MaxMonitoredAuthors,
		Workers:    cfg.ScoringWorkers,
		Ignored:    cfg.IgnoredAuthors,
	})

	c := &Components{
		Storage: blobs,
		State:   store,
		Scorer:  scorer,
		Reddit:  reddit,
		Monitor: monitor,
		Service: monitoring.NewService(cfg, blobs, notifier, scorer, monitor, []sources.Collector{reddit}),
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	return c, nil
}

// Close releases connections held by the components
func (c *Components) Close() error {
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
