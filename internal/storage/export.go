package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/palma21/risk-monitor-bot/internal/models"
)

var postColumns = []string{
	"id", "author", "title", "body", "source_group", "created_at", "language", "permalink",
	"violence_risk_score", "violence_type", "risk_tier", "has_profanity", "matched_terms",
	"moderation_flagged", "explanation",
}

var profileColumns = []string{
	"author", "user_risk_score", "high_risk_post_count", "total_posts", "tier", "status", "explanation",
}

var alertColumns = []string{
	"id", "timestamp", "author", "post_id", "score", "category", "source_group", "permalink", "preview", "explanation",
}

// LabeledPostsCSV encodes labeled posts with the output post fields
func LabeledPostsCSV(posts []models.LabeledPost) ([]byte, error) {
	rows := make([][]string, 0, len(posts))
	for _, p := range posts {
		r := p.Row()
		rows = append(rows, []string{
			r.ID, r.Author, r.Title, r.Body, r.SourceGroup, formatTime(r.CreatedAt), r.Language, r.Permalink,
			formatScore(r.ViolenceRiskScore), r.ViolenceType, string(r.RiskTier),
			strconv.FormatBool(r.HasProfanity), strings.Join(r.MatchedTerms, "|"),
			strconv.FormatBool(r.ModerationFlagged), r.Explanation,
		})
	}
	return encodeCSV(postColumns, rows)
}

// UserProfilesCSV encodes user risk profiles
func UserProfilesCSV(profiles []models.UserRiskProfile) ([]byte, error) {
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, []string{
			p.Author, formatScore(p.UserRiskScore), strconv.Itoa(p.HighRiskPostCount),
			strconv.Itoa(p.TotalPosts), string(p.Tier), string(p.Status), p.Explanation,
		})
	}
	return encodeCSV(profileColumns, rows)
}

// AlertsCSV encodes monitor alerts
func AlertsCSV(alerts []models.Alert) ([]byte, error) {
	rows := make([][]string, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []string{
			a.ID, formatTime(a.Timestamp), a.Author, a.PostID, formatScore(a.Score),
			string(a.Category), a.SourceGroup, a.Permalink, a.Preview, a.Explanation,
		})
	}
	return encodeCSV(alertColumns, rows)
}

// WriteJSON stores v as indented JSON under name
func WriteJSON(store StorageInterface, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return store.Store(name, data)
}

// WriteCSV stores already encoded CSV under name
func WriteCSV(store StorageInterface, name string, data []byte, err error) error {
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return store.Store(name, data)
}

func encodeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
