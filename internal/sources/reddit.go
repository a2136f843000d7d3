package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	redditPublicURL = "https://www.reddit.com"
	redditOAuthURL  = "https://oauth.reddit.com"
	redditTokenURL  = "https://www.reddit.com/api/v1/access_token"

	defaultUserAgent = "risk-monitor-bot/1.0"
	searchPageSize   = 25
	historyPageSize  = 100
	maxHistoryPosts  = 500
)

// RedditSource collects posts and author histories from Reddit. With client
// credentials it uses the OAuth API, otherwise the public JSON endpoints.
type RedditSource struct {
	clientID     string
	clientSecret string
	userAgent    string
	publicURL    string
	oauthURL     string
	tokenURL     string
	client       *resty.Client
	limiter      *rate.Limiter
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// RedditOption customizes a RedditSource
type RedditOption func(*RedditSource)

// WithBaseURLs points the source at different public, OAuth and token endpoints
func WithBaseURLs(public, oauth, token string) RedditOption {
	return func(r *RedditSource) {
		r.publicURL = strings.TrimRight(public, "/")
		r.oauthURL = strings.TrimRight(oauth, "/")
		r.tokenURL = token
	}
}

// WithRateLimit spaces requests by the given interval, zero disables spacing
func WithRateLimit(every time.Duration) RedditOption {
	return func(r *RedditSource) {
		if every <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		r.limiter = rate.NewLimiter(rate.Every(every), 1)
	}
}

// WithRetryWait sets the base wait between retried requests
func WithRetryWait(wait time.Duration) RedditOption {
	return func(r *RedditSource) {
		r.client.SetRetryWaitTime(wait).SetRetryMaxWaitTime(wait * 10)
	}
}

// WithClock overrides the time source used for window cutoffs
func WithClock(now func() time.Time) RedditOption {
	return func(r *RedditSource) {
		r.now = now
	}
}

type redditAuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string     `json:"kind"`
			Data redditPost `json:"data"`
		} `json:"children"`
		After string `json:"after"`
	} `json:"data"`
}

type redditPost struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Title     string  `json:"title"`
	Selftext  string  `json:"selftext"`
	Body      string  `json:"body"`
	Author    string  `json:"author"`
	Subreddit string  `json:"subreddit"`
	URL       string  `json:"url"`
	Permalink string  `json:"permalink"`
	Created   float64 `json:"created_utc"`
}

// NewRedditSource creates a Reddit collector. Empty credentials select the public endpoints.
func NewRedditSource(clientID, clientSecret, userAgent string, opts ...RedditOption) *RedditSource {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	r := &RedditSource{
		clientID:     clientID,
		clientSecret: clientSecret,
		userAgent:    userAgent,
		publicURL:    redditPublicURL,
		oauthURL:     redditOAuthURL,
		tokenURL:     redditTokenURL,
		limiter:      rate.NewLimiter(rate.Every(time.Second), 1),
		now:          time.Now,
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetLogger(logrus.StandardLogger()).
			SetRetryCount(3).
			SetRetryWaitTime(2 * time.Second).
			SetRetryMaxWaitTime(30 * time.Second).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
			}),
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedditSource) GetName() string {
	return "reddit"
}

// IsEnabled is always true, the public endpoints need no credentials
func (r *RedditSource) IsEnabled() bool {
	return true
}

func (r *RedditSource) usesOAuth() bool {
	return r.clientID != "" && r.clientSecret != ""
}

// FetchPosts searches every group x term combination and returns unique records
func (r *RedditSource) FetchPosts(ctx context.Context, f Filters) ([]models.TextRecord, error) {
	limit := f.LimitPerQuery
	if limit <= 0 {
		limit = 10
	}
	var cutoff time.Time
	if f.Since > 0 {
		cutoff = r.now().Add(-f.Since)
	}

	seen := make(map[string]bool)
	var records []models.TextRecord
	failures, combos := 0, 0

	for _, group := range f.Groups {
		for _, term := range f.SearchTerms {
			if err := ctx.Err(); err != nil {
				return records, err
			}
			combos++

			found, err := r.search(ctx, group, term, limit, cutoff)
			if err != nil {
				failures++
				logrus.Errorf("Failed to search r/%s for '%s': %v", group, term, err)
				continue
			}
			for _, rec := range found {
				if !seen[rec.ID] {
					seen[rec.ID] = true
					records = append(records, rec)
				}
			}
		}
	}

	if combos > 0 && failures == combos {
		return nil, fmt.Errorf("all %d reddit searches failed", combos)
	}

	logrus.Infof("Collected %d unique posts from %d reddit searches", len(records), combos)
	return records, nil
}

func (r *RedditSource) search(ctx context.Context, group, term string, limit int, cutoff time.Time) ([]models.TextRecord, error) {
	var records []models.TextRecord
	after := ""

	for len(records) < limit {
		params := map[string]string{
			"q":           term,
			"restrict_sr": "1",
			"sort":        "new",
			"t":           "month",
			"limit":       strconv.Itoa(min(searchPageSize, limit-len(records))),
		}
		if after != "" {
			params["after"] = after
		}

		var listing redditListing
		if err := r.getJSON(ctx, "/r/"+url.PathEscape(group)+"/search.json", params, &listing); err != nil {
			return records, err
		}
		if len(listing.Data.Children) == 0 {
			break
		}

		for _, child := range listing.Data.Children {
			rec, ok := r.toRecord(child.Data, group)
			if !ok || (!cutoff.IsZero() && rec.CreatedAt.Before(cutoff)) {
				continue
			}
			records = append(records, rec)
			if len(records) >= limit {
				break
			}
		}

		after = listing.Data.After
		if after == "" {
			break
		}
	}

	logrus.Debugf("Found %d posts for '%s' in r/%s", len(records), term, group)
	return records, nil
}

// FetchAuthorPosts returns the submissions and comments of an author within
// the window. Deleted and private accounts are reported through the status,
// any other failure is returned as an error.
func (r *RedditSource) FetchAuthorPosts(ctx context.Context, author string, window time.Duration) (*AuthorHistory, error) {
	switch author {
	case "", "[deleted]", "[removed]":
		return &AuthorHistory{Status: models.StatusDeleted}, nil
	}

	cutoff := r.now().Add(-window)
	history := &AuthorHistory{Status: models.StatusNormal}

	for _, kind := range []string{"submitted", "comments"} {
		posts, err := r.history(ctx, author, kind, cutoff)
		if err != nil {
			if status, ok := StatusFor(err); ok {
				logrus.WithField("author", author).Infof("Author history unavailable: %s", status)
				return &AuthorHistory{Status: status}, nil
			}
			return nil, fmt.Errorf("failed to fetch %s of u/%s: %w", kind, author, err)
		}
		history.Posts = append(history.Posts, posts...)
	}

	logrus.WithField("author", author).Debugf("Fetched %d recent posts and comments", len(history.Posts))
	return history, nil
}

func (r *RedditSource) history(ctx context.Context, author, kind string, cutoff time.Time) ([]models.TextRecord, error) {
	var records []models.TextRecord
	after := ""
	path := fmt.Sprintf("/user/%s/%s.json", url.PathEscape(author), kind)

	for len(records) < maxHistoryPosts {
		params := map[string]string{"limit": strconv.Itoa(historyPageSize), "sort": "new"}
		if after != "" {
			params["after"] = after
		}

		var listing redditListing
		if err := r.getJSON(ctx, path, params, &listing); err != nil {
			return nil, err
		}

		reachedCutoff := false
		for _, child := range listing.Data.Children {
			rec, ok := r.toRecord(child.Data, "")
			if !ok {
				continue
			}
			if rec.CreatedAt.Before(cutoff) {
				reachedCutoff = true
				break
			}
			records = append(records, rec)
		}

		after = listing.Data.After
		if reachedCutoff || after == "" || len(listing.Data.Children) == 0 {
			break
		}
	}
	return records, nil
}

func (r *RedditSource) toRecord(p redditPost, group string) (models.TextRecord, bool) {
	if p.ID == "" || p.Author == "" || p.Created == 0 {
		return models.TextRecord{}, false
	}

	id := p.Name
	if id == "" {
		id = p.ID
	}
	body := p.Selftext
	if body == "" {
		body = p.Body
	}
	if p.Subreddit != "" {
		group = p.Subreddit
	}

	rec := models.TextRecord{
		ID:          id,
		Author:      p.Author,
		Title:       p.Title,
		Body:        body,
		SourceGroup: group,
		CreatedAt:   time.Unix(int64(p.Created), 0).UTC(),
		URL:         p.URL,
	}
	if p.Permalink != "" {
		rec.Permalink = redditPublicURL + p.Permalink
	}
	return rec, true
}

func (r *RedditSource) getJSON(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	req := r.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", r.userAgent).
		SetQueryParams(params)

	base := r.publicURL
	if r.usesOAuth() {
		token, err := r.token(ctx)
		if err != nil {
			return fmt.Errorf("reddit authentication failed: %w", err)
		}
		req.SetAuthToken(token)
		base = r.oauthURL
	}

	resp, err := req.Get(base + path)
	if err != nil {
		return err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("reddit %s: %w", path, ErrNotFound)
	case http.StatusForbidden:
		return fmt.Errorf("reddit %s: %w", path, ErrForbidden)
	default:
		return fmt.Errorf("reddit API returned status %d for %s", resp.StatusCode(), path)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode reddit response for %s: %w", path, err)
	}
	return nil
}

func (r *RedditSource) token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.accessToken != "" && r.now().Before(r.tokenExpiry) {
		return r.accessToken, nil
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", r.userAgent).
		SetBasicAuth(r.clientID, r.clientSecret).
		SetFormData(map[string]string{
			"grant_type": "client_credentials",
		}).
		Post(r.tokenURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}

	var authResp redditAuthResponse
	if err := json.Unmarshal(resp.Body(), &authResp); err != nil {
		return "", err
	}
	if authResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	r.accessToken = authResp.AccessToken
	r.tokenExpiry = r.now().Add(time.Duration(authResp.ExpiresIn)*time.Second - time.Minute)
	return r.accessToken, nil
}
