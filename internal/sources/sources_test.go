package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type child struct {
	Kind string                 `json:"kind"`
	Data map[string]interface{} `json:"data"`
}

func listing(after string, children ...child) []byte {
	body := map[string]interface{}{
		"kind": "Listing",
		"data": map[string]interface{}{"children": children, "after": after},
	}
	b, _ := json.Marshal(body)
	return b
}

func post(id, author, subreddit, title string, age time.Duration) child {
	return child{Kind: "t3", Data: map[string]interface{}{
		"id":          id,
		"name":        "t3_" + id,
		"author":      author,
		"subreddit":   subreddit,
		"title":       title,
		"selftext":    "body of " + id,
		"permalink":   "/r/" + subreddit + "/comments/" + id,
		"created_utc": float64(testNow.Add(-age).Unix()),
	}}
}

func comment(id, author, subreddit, body string, age time.Duration) child {
	return child{Kind: "t1", Data: map[string]interface{}{
		"id":          id,
		"name":        "t1_" + id,
		"author":      author,
		"subreddit":   subreddit,
		"body":        body,
		"permalink":   "/r/" + subreddit + "/comments/x/" + id,
		"created_utc": float64(testNow.Add(-age).Unix()),
	}}
}

func newTestSource(server *httptest.Server, clientID, clientSecret string) *RedditSource {
	return NewRedditSource(clientID, clientSecret, "test-agent",
		WithBaseURLs(server.URL, server.URL+"/oauth", server.URL+"/token"),
		WithRateLimit(0),
		WithRetryWait(time.Millisecond),
		WithClock(func() time.Time { return testNow }),
	)
}

func TestRedditSource_GetName(t *testing.T) {
	source := NewRedditSource("", "", "")
	assert.Equal(t, "reddit", source.GetName())
	assert.True(t, source.IsEnabled())
}

func TestRedditSource_usesOAuth(t *testing.T) {
	tests := []struct {
		name         string
		clientID     string
		clientSecret string
		expected     bool
	}{
		{name: "Both credentials provided", clientID: "client_id", clientSecret: "client_secret", expected: true},
		{name: "Missing client ID", clientID: "", clientSecret: "client_secret", expected: false},
		{name: "Missing client secret", clientID: "client_id", clientSecret: "", expected: false},
		{name: "Both missing", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := NewRedditSource(tt.clientID, tt.clientSecret, "")
			assert.Equal(t, tt.expected, source.usesOAuth())
		})
	}
}

func TestRedditSource_FetchPosts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/r/politics/search.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "1", r.URL.Query().Get("restrict_sr"))
		assert.Equal(t, "new", r.URL.Query().Get("sort"))

		switch r.URL.Query().Get("q") {
		case "kill":
			if r.URL.Query().Get("after") == "" {
				w.Write(listing("t3_b", post("a", "alice", "politics", "first", time.Hour), post("b", "bob", "politics", "second", 2*time.Hour)))
				return
			}
			w.Write(listing("", post("c", "carol", "politics", "third", 3*time.Hour)))
		case "vermin":
			w.Write(listing("", post("a", "alice", "politics", "first", time.Hour), post("old", "dave", "politics", "stale", 90*24*time.Hour)))
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	source := newTestSource(server, "", "")
	records, err := source.FetchPosts(context.Background(), Filters{
		Groups:        []string{"politics"},
		SearchTerms:   []string{"kill", "vermin"},
		LimitPerQuery: 5,
		Since:         30 * 24 * time.Hour,
	})

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "t3_a", records[0].ID)
	assert.Equal(t, "alice", records[0].Author)
	assert.Equal(t, "politics", records[0].SourceGroup)
	assert.Equal(t, "body of a", records[0].Body)
	assert.Equal(t, "https://www.reddit.com/r/politics/comments/a", records[0].Permalink)
	assert.Equal(t, testNow.Add(-time.Hour), records[0].CreatedAt)
	assert.Equal(t, "t3_c", records[2].ID)
}

func TestRedditSource_FetchPostsRespectsLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Write(listing("t3_z", post("a", "alice", "news", "a", time.Hour), post("b", "bob", "news", "b", time.Hour), post("c", "carol", "news", "c", time.Hour)))
	}))
	defer server.Close()

	source := newTestSource(server, "", "")
	records, err := source.FetchPosts(context.Background(), Filters{Groups: []string{"news"}, SearchTerms: []string{"attack"}, LimitPerQuery: 2})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRedditSource_FetchPostsAllFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	source := newTestSource(server, "", "")
	_, err := source.FetchPosts(context.Background(), Filters{Groups: []string{"news"}, SearchTerms: []string{"a", "b"}})
	assert.Error(t, err)
}

func TestRedditSource_FetchAuthorPosts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/alice/submitted.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write(listing("t3_more",
			post("s1", "alice", "politics", "recent", 2*time.Hour),
			post("s2", "alice", "politics", "too old", 72*time.Hour),
		))
	})
	mux.HandleFunc("/user/alice/comments.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write(listing("", comment("c1", "alice", "news", "I will kill you", time.Hour)))
	})
	mux.HandleFunc("/user/ghost/submitted.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/user/hidden/submitted.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/user/broken/submitted.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	source := newTestSource(server, "", "")
	ctx := context.Background()

	t.Run("Recent posts and comments", func(t *testing.T) {
		history, err := source.FetchAuthorPosts(ctx, "alice", 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNormal, history.Status)
		require.Len(t, history.Posts, 2)
		assert.Equal(t, "t3_s1", history.Posts[0].ID)
		assert.Equal(t, "t1_c1", history.Posts[1].ID)
		assert.Equal(t, "I will kill you", history.Posts[1].Body)
		assert.Equal(t, "news", history.Posts[1].SourceGroup)
	})

	t.Run("Deleted account", func(t *testing.T) {
		history, err := source.FetchAuthorPosts(ctx, "ghost", 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeleted, history.Status)
		assert.Empty(t, history.Posts)
	})

	t.Run("Private profile", func(t *testing.T) {
		history, err := source.FetchAuthorPosts(ctx, "hidden", 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPrivate, history.Status)
	})

	t.Run("Placeholder author", func(t *testing.T) {
		history, err := source.FetchAuthorPosts(ctx, "[deleted]", 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeleted, history.Status)
	})

	t.Run("Collection failure", func(t *testing.T) {
		history, err := source.FetchAuthorPosts(ctx, "broken", 48*time.Hour)
		assert.Error(t, err)
		assert.Nil(t, history)
	})
}

func TestRedditSource_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(listing(""))
	}))
	defer server.Close()

	source := newTestSource(server, "", "")
	history, err := source.FetchAuthorPosts(context.Background(), "alice", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, history.Posts)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestRedditSource_OAuth(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/oauth/user/alice/submitted.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write(listing(""))
	})
	mux.HandleFunc("/oauth/user/alice/comments.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write(listing(""))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	source := newTestSource(server, "id", "secret")
	_, err := source.FetchAuthorPosts(context.Background(), "alice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestStatusFor(t *testing.T) {
	status, ok := StatusFor(fmt.Errorf("wrapped: %w", ErrNotFound))
	assert.True(t, ok)
	assert.Equal(t, models.StatusDeleted, status)

	status, ok = StatusFor(ErrForbidden)
	assert.True(t, ok)
	assert.Equal(t, models.StatusPrivate, status)

	_, ok = StatusFor(fmt.Errorf("boom"))
	assert.False(t, ok)
}
