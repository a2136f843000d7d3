package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/palma21/risk-monitor-bot/internal/lexicon"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/palma21/risk-monitor-bot/internal/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// CalibrationThreshold is the lowest heuristic score that is sent to the provider
	CalibrationThreshold = 0.8
	// FlaggedScore is the floor applied to a score the provider flagged
	FlaggedScore = 0.85

	UnavailableMarker = "moderation unavailable"

	explainScoreMin = 0.1
)

// Options tunes the calibrator. Zero values fall back to defaults.
type Options struct {
	RateLimit  int
	RateWindow time.Duration
	Timeout    time.Duration
	CacheSize  int
	CacheTTL   time.Duration
	Retry      retry.Policy
}

func (o Options) withDefaults() Options {
	if o.RateLimit <= 0 {
		o.RateLimit = 60
	}
	if o.RateWindow <= 0 {
		o.RateWindow = time.Minute
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 1000
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 24 * time.Hour
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultPolicy()
	}
	return o
}

type cacheEntry struct {
	result *Result
	err    error
}

// Calibrator validates high heuristic scores against an external provider.
// It is safe for concurrent use. A nil *Calibrator disables calibration.
type Calibrator struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter
	cache    *expirable.LRU[string, cacheEntry]
	group    singleflight.Group
}

// NewCalibrator wraps a provider with caching, rate limiting and retries
func NewCalibrator(provider Provider, opts Options) *Calibrator {
	opts = opts.withDefaults()
	// calls are spread evenly over the window, a burst of one keeps any
	// window at or below RateLimit calls
	every := rate.Limit(float64(opts.RateLimit) / opts.RateWindow.Seconds())
	return &Calibrator{
		provider: provider,
		opts:     opts,
		limiter:  rate.NewLimiter(every, 1),
		cache:    expirable.NewLRU[string, cacheEntry](opts.CacheSize, nil, opts.CacheTTL),
	}
}

// Reset drops cached provider answers, starting a new run scope
func (c *Calibrator) Reset() {
	if c == nil {
		return
	}
	c.cache.Purge()
}

// Calibrate consults the provider for classifications at or above the
// calibration threshold. The provider can only raise the score. Failures are
// recorded on the outcome and the explanation, never returned.
func (c *Calibrator) Calibrate(ctx context.Context, text string, cls models.Classification) (models.Classification, models.ModerationOutcome) {
	if c == nil || cls.Score < CalibrationThreshold {
		return cls, models.ModerationOutcome{}
	}

	outcome := models.ModerationOutcome{Attempted: true}
	res, err := c.moderate(ctx, text)
	if err != nil {
		outcome.Error = Kind(err)
		cls.Explanation = fmt.Sprintf("%s; %s (%s)", cls.Explanation, UnavailableMarker, outcome.Error)
		logrus.Warnf("Moderation unavailable, keeping heuristic score %.2f: %v", cls.Score, err)
		return cls, outcome
	}

	outcome.Flagged = res.Flagged
	outcome.CategoryScores = make(map[string]float64, len(res.CategoryScores))
	for k, v := range res.CategoryScores {
		outcome.CategoryScores[k] = v
	}

	if res.Flagged {
		cls.Score = math.Max(cls.Score, FlaggedScore)
		cls.Explanation += "; moderation flagged"
		if summary := summarizeScores(res.CategoryScores); summary != "" {
			cls.Explanation += ": " + summary
		}
	} else {
		cls.Explanation += "; moderation not flagged"
	}
	return cls, outcome
}

// Kind maps a provider error to the outcome error kind
func Kind(err error) models.ErrorKind {
	switch {
	case err == nil:
		return models.ErrorKindNone
	case errors.Is(err, ErrPermanent):
		return models.ErrorKindPermanent
	default:
		return models.ErrorKindTransient
	}
}

func (c *Calibrator) moderate(ctx context.Context, text string) (*Result, error) {
	key := cacheKey(text)
	if e, ok := c.cache.Get(key); ok {
		moderationCacheHits.Inc()
		return e.result, e.err
	}

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		if e, ok := c.cache.Get(key); ok {
			moderationCacheHits.Inc()
			return e, nil
		}
		res, err := c.call(ctx, text)
		e := cacheEntry{result: res, err: err}
		if ctx.Err() == nil {
			c.cache.Add(key, e)
		}
		return e, nil
	})

	e := v.(cacheEntry)
	return e.result, e.err
}

func (c *Calibrator) call(ctx context.Context, text string) (*Result, error) {
	var res *Result
	err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("%w: rate limiter: %v", ErrTransient, err))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		start := time.Now()
		r, err := c.provider.Classify(attemptCtx, text)
		moderationDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			kind := Kind(err)
			moderationCalls.WithLabelValues(string(kind)).Inc()
			if kind == models.ErrorKindPermanent {
				return retry.Permanent(err)
			}
			logrus.Debugf("Moderation attempt failed: %v", err)
			return err
		}

		moderationCalls.WithLabelValues("ok").Inc()
		res = r
		return nil
	})
	return res, err
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(lexicon.NormalizedText(text)))
	return hex.EncodeToString(sum[:])
}

// summarizeScores lists provider categories above explainScoreMin, highest first
func summarizeScores(scores map[string]float64) string {
	type kv struct {
		name  string
		score float64
	}
	var top []kv
	for name, score := range scores {
		if score >= explainScoreMin {
			top = append(top, kv{name, score})
		}
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].score != top[j].score {
			return top[i].score > top[j].score
		}
		return top[i].name < top[j].name
	})

	parts := make([]string, len(top))
	for i, s := range top {
		parts[i] = fmt.Sprintf("%s=%.2f", s.name, s.score)
	}
	return strings.Join(parts, ", ")
}
