package models

import (
	"strings"
	"time"
)

// TextRecord is a single piece of authored content pulled from a source
type TextRecord struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	SourceGroup string    `json:"source_group"` // subreddit, forum, category
	CreatedAt   time.Time `json:"created_at"`
	Language    string    `json:"language"`
	Permalink   string    `json:"permalink,omitempty"`
	URL         string    `json:"url,omitempty"`
}

// UnknownLanguage is used when the collector did not detect a language
const UnknownLanguage = "unknown"

// Text returns the scored text of the record (title and body)
func (r TextRecord) Text() string {
	return r.Title + " " + r.Body
}

// Lang returns the record language, falling back to "unknown"
func (r TextRecord) Lang() string {
	if strings.TrimSpace(r.Language) == "" {
		return UnknownLanguage
	}
	return r.Language
}

// ProfanitySignal is the result of matching text against the profanity lexicon
type ProfanitySignal struct {
	HasProfanity bool     `json:"has_profanity"`
	MatchedTerms []string `json:"matched_terms"` // first-occurrence order
	Occurrences  int      `json:"occurrences"`
}

// ViolenceCategory labels the nature of violent content in a text
type ViolenceCategory string

const (
	CategoryNone           ViolenceCategory = "none"
	CategoryDescriptive    ViolenceCategory = "descriptive"
	CategorySelfDirected   ViolenceCategory = "self_directed"
	CategoryHateSpeech     ViolenceCategory = "hate_speech"
	CategoryCallToViolence ViolenceCategory = "call_to_violence"
)

// Classification is the explainable output of the violence classifier
type Classification struct {
	Category           ViolenceCategory `json:"category"`
	Score              float64          `json:"score"`
	Explanation        string           `json:"explanation"`
	MatchedTerms       []string         `json:"matched_terms,omitempty"`
	Bonuses            []string         `json:"bonuses,omitempty"`
	ReportingMarkers   []string         `json:"reporting_markers,omitempty"`
	NewsFiltered       bool             `json:"news_filtered"`
	SecondPersonThreat bool             `json:"second_person_threat"`
}

// ErrorKind describes why an external moderation call failed
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
)

// ModerationOutcome records what the external moderation provider said
type ModerationOutcome struct {
	Attempted      bool               `json:"attempted"`
	Flagged        bool               `json:"flagged"`
	CategoryScores map[string]float64 `json:"category_scores,omitempty"`
	Error          ErrorKind          `json:"error,omitempty"`
}

// LabeledPost is a TextRecord with all signals attached. It is not mutated after creation.
type LabeledPost struct {
	Record         TextRecord        `json:"record"`
	Profanity      ProfanitySignal   `json:"profanity"`
	Classification Classification    `json:"classification"`
	Moderation     ModerationOutcome `json:"moderation"`
}

// Score is the final violence risk score of the post
func (p LabeledPost) Score() float64 {
	return p.Classification.Score
}

// PostRow is the flat output view of a LabeledPost
type PostRow struct {
	ID                string    `json:"id"`
	Author            string    `json:"author"`
	Title             string    `json:"title"`
	Body              string    `json:"body"`
	SourceGroup       string    `json:"source_group"`
	CreatedAt         time.Time `json:"created_at"`
	Language          string    `json:"language"`
	Permalink         string    `json:"permalink,omitempty"`
	ViolenceRiskScore float64   `json:"violence_risk_score"`
	ViolenceType      string    `json:"violence_type"`
	RiskTier          RiskTier  `json:"risk_tier"`
	HasProfanity      bool      `json:"has_profanity"`
	MatchedTerms      []string  `json:"matched_terms"`
	ModerationFlagged bool      `json:"moderation_flagged"`
	Explanation       string    `json:"explanation"`
}

// Row flattens the post to its output fields
func (p LabeledPost) Row() PostRow {
	return PostRow{
		ID:                p.Record.ID,
		Author:            p.Record.Author,
		Title:             p.Record.Title,
		Body:              p.Record.Body,
		SourceGroup:       p.Record.SourceGroup,
		CreatedAt:         p.Record.CreatedAt,
		Language:          p.Record.Lang(),
		Permalink:         p.Record.Permalink,
		ViolenceRiskScore: p.Classification.Score,
		ViolenceType:      string(p.Classification.Category),
		RiskTier:          TierFor(p.Classification.Score),
		HasProfanity:      p.Profanity.HasProfanity,
		MatchedTerms:      p.Profanity.MatchedTerms,
		ModerationFlagged: p.Moderation.Flagged,
		Explanation:       p.Classification.Explanation,
	}
}

// AuthorStatus reflects what the collector could learn about an author
type AuthorStatus string

const (
	StatusNormal    AuthorStatus = "normal"
	StatusDeleted   AuthorStatus = "deleted"
	StatusPrivate   AuthorStatus = "private"
	StatusNoHistory AuthorStatus = "no_history"
)

// UserRiskProfile is the per-author aggregate of a single run
type UserRiskProfile struct {
	Author            string       `json:"author"`
	UserRiskScore     float64      `json:"user_risk_score"`
	HighRiskPostCount int          `json:"high_risk_post_count"`
	TotalPosts        int          `json:"total_posts"`
	Explanation       string       `json:"explanation"`
	Status            AuthorStatus `json:"status"`
	Tier              RiskTier     `json:"tier"`
}

// Alert is a one-time notification about new high-risk content from a monitored author
type Alert struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	Author      string           `json:"author"`
	PostID      string           `json:"post_id"`
	Score       float64          `json:"score"`
	Category    ViolenceCategory `json:"category"`
	SourceGroup string           `json:"source_group,omitempty"`
	Permalink   string           `json:"permalink,omitempty"`
	Preview     string           `json:"preview,omitempty"`
	Explanation string           `json:"explanation,omitempty"`
}

// AuthorState is the durable monitoring record of one author
type AuthorState struct {
	Author         string          `json:"author"`
	Baseline       float64         `json:"baseline"`
	AlertedPosts   map[string]bool `json:"alerted_posts"`
	Status         AuthorStatus    `json:"status"`
	MonitoredSince time.Time       `json:"monitored_since"`
	LastChecked    time.Time       `json:"last_checked,omitempty"`
}

// NewAuthorState starts monitoring an author at the given baseline
func NewAuthorState(author string, baseline float64, now time.Time) *AuthorState {
	return &AuthorState{
		Author:         author,
		Baseline:       baseline,
		AlertedPosts:   make(map[string]bool),
		Status:         StatusNormal,
		MonitoredSince: now,
	}
}

// HasAlerted reports whether an alert was already emitted for the post
func (s *AuthorState) HasAlerted(postID string) bool {
	return s.AlertedPosts[postID]
}

// Clone returns a deep copy of the state
func (s *AuthorState) Clone() *AuthorState {
	if s == nil {
		return nil
	}
	out := *s
	out.AlertedPosts = make(map[string]bool, len(s.AlertedPosts))
	for id := range s.AlertedPosts {
		out.AlertedPosts[id] = true
	}
	return &out
}

// MonitorState is the set of monitored authors
type MonitorState struct {
	Authors map[string]*AuthorState `json:"authors"`
}

// NewMonitorState returns an empty state
func NewMonitorState() *MonitorState {
	return &MonitorState{Authors: make(map[string]*AuthorState)}
}

// RiskTier is a reporting label for a score range
type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// TierFor maps a score to its reporting tier
func TierFor(score float64) RiskTier {
	switch {
	case score >= 0.8:
		return TierCritical
	case score >= 0.6:
		return TierHigh
	case score >= 0.4:
		return TierMedium
	default:
		return TierLow
	}
}

// Report represents the summary of a collection or monitor run
type Report struct {
	GeneratedAt   time.Time              `json:"generated_at"`
	Period        string                 `json:"period"` // "daily", "weekly" or "monitor"
	TotalPosts    int                    `json:"total_posts"`
	HighRiskPosts []LabeledPost          `json:"high_risk_posts"`
	TopUsers      []UserRiskProfile      `json:"top_users"`
	Alerts        []Alert                `json:"alerts,omitempty"`
	Summary       map[string]interface{} `json:"summary"`
}
