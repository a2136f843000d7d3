package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/palma21/risk-monitor-bot/internal/config"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/gomail.v2"
)

const (
	teamsPostLimit = 5
	emailPostLimit = 10
	previewLimit   = 200
)

// Service handles sending notifications via various channels
type Service struct {
	config *config.Config
	client *resty.Client
	send   func(m *gomail.Message) error
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	s := &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
	s.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		return d.DialAndSend(m)
	}
	return s
}

// SendReport sends a run report via configured notification channels
func (s *Service) SendReport(report *models.Report) error {
	subject := fmt.Sprintf("Violence Risk Report - %s (%d posts, %d high risk)",
		title(report.Period), report.TotalPosts, len(report.HighRiskPosts))

	return s.dispatch("report",
		func() error { return s.postToTeams(s.buildTeamsMessage(report)) },
		func() error {
			html, err := render(reportTemplate, report)
			if err != nil {
				return fmt.Errorf("failed to build email HTML: %w", err)
			}
			return s.sendEmail(subject, s.buildEmailText(report), html)
		})
}

// SendAlerts sends one notification covering all alerts of a monitor run.
// An empty slice sends nothing.
func (s *Service) SendAlerts(alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	subject := fmt.Sprintf("URGENT: %d new high-risk posts from monitored authors", len(alerts))

	return s.dispatch("alerts",
		func() error { return s.postToTeams(s.buildAlertsMessage(alerts)) },
		func() error {
			html, err := render(alertsTemplate, alerts)
			if err != nil {
				return fmt.Errorf("failed to build email HTML: %w", err)
			}
			return s.sendEmail(subject, s.buildAlertsText(alerts), html)
		})
}

func (s *Service) dispatch(kind string, teams, email func() error) error {
	var errors []string

	// Send to Teams if configured
	if s.config.TeamsWebhookURL != "" {
		if err := teams(); err != nil {
			logrus.Errorf("Failed to send Teams %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Successfully sent %s to Teams", kind)
		}
	}

	// Send via email if configured
	if s.config.NotificationEmail != "" {
		if err := email(); err != nil {
			logrus.Errorf("Failed to send %s email: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Successfully sent %s via email", kind)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) postToTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) buildTeamsMessage(report *models.Report) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Violence Risk Report - %s", title(report.Period)),
		Text: fmt.Sprintf("Scored %d posts, %d high risk, %d users flagged",
			report.TotalPosts, len(report.HighRiskPosts), len(report.TopUsers)),
	}

	facts := []TeamsFact{
		{Name: "Total Posts", Value: fmt.Sprintf("%d", report.TotalPosts)},
		{Name: "High Risk Posts", Value: fmt.Sprintf("%d", len(report.HighRiskPosts))},
		{Name: "Generated", Value: report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	counts := categoryCounts(report)
	for _, name := range sortedKeys(counts) {
		facts = append(facts, TeamsFact{
			Name:  title(strings.ReplaceAll(name, "_", " ")),
			Value: fmt.Sprintf("%d", counts[name]),
		})
	}
	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts:         facts,
		Markdown:      true,
	})

	if len(report.HighRiskPosts) > 0 {
		var lines []string
		for i, post := range report.HighRiskPosts {
			if i >= teamsPostLimit {
				break
			}
			lines = append(lines, fmt.Sprintf("**[%s](%s)** - u/%s in r/%s, %.2f %s",
				postTitle(post), post.Record.Permalink, post.Record.Author, post.Record.SourceGroup,
				post.Score(), post.Classification.Category))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Highest Risk Posts",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	if len(report.TopUsers) > 0 {
		var facts []TeamsFact
		for i, user := range report.TopUsers {
			if i >= teamsPostLimit {
				break
			}
			facts = append(facts, TeamsFact{
				Name:  user.Author,
				Value: fmt.Sprintf("%.2f (%s) %s", user.UserRiskScore, user.Tier, user.Explanation),
			})
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Top Users",
			Facts:         facts,
			Markdown:      true,
		})
	}

	return message
}

func (s *Service) buildAlertsMessage(alerts []models.Alert) *TeamsMessage {
	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: "D13438",
		Title:      "URGENT: Monitored Author Alert",
		Text:       fmt.Sprintf("%d new high-risk posts from monitored authors", len(alerts)),
	}

	for _, alert := range alerts {
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle:    fmt.Sprintf("u/%s - %.2f %s", alert.Author, alert.Score, alert.Category),
			ActivitySubtitle: alert.Timestamp.Format("2006-01-02 15:04:05 UTC"),
			ActivityText:     alert.Preview,
			Facts: []TeamsFact{
				{Name: "Post", Value: alert.PostID},
				{Name: "Link", Value: alert.Permalink},
				{Name: "Explanation", Value: alert.Explanation},
			},
			Markdown: true,
		})
	}

	return message
}

func (s *Service) sendEmail(subject, text, html string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	if err := s.send(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

var funcs = template.FuncMap{
	"title":    title,
	"truncate": truncate,
	"score":    func(f float64) string { return fmt.Sprintf("%.2f", f) },
}

var reportTemplate = template.Must(template.New("report").Funcs(funcs).Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Violence Risk Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .post { border-left: 4px solid #605e5c; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .post-title { font-weight: bold; margin-bottom: 5px; }
        .post-meta { color: #666; font-size: 0.9em; }
        .critical { border-left-color: #d13438; }
        .high { border-left-color: #ff8c00; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Violence Risk Report</h1>
        <p>{{.Period | title}} report generated on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Total Posts:</strong> {{.TotalPosts}}</p>
        <p><strong>High Risk Posts:</strong> {{len .HighRiskPosts}}</p>
        {{range $category, $count := .Summary.categories}}
            <p><strong>{{$category | title}}:</strong> {{$count}}</p>
        {{end}}
    </div>

    {{if .HighRiskPosts}}
    <h2>Highest Risk Posts</h2>
    {{range $index, $post := .HighRiskPosts}}
        {{if lt $index 10}}
        <div class="post {{$post.Row.RiskTier}}">
            <div class="post-title">
                <a href="{{$post.Record.Permalink}}" target="_blank">{{$post.Record.Title}}</a>
            </div>
            <div class="post-meta">
                By {{$post.Record.Author}} in {{$post.Record.SourceGroup}} | {{$post.Record.CreatedAt.Format "Jan 2, 2006"}}
                | Score: {{score $post.Classification.Score}} ({{$post.Classification.Category}})
            </div>
            <p>{{$post.Classification.Explanation}}</p>
            {{if $post.Record.Body}}
            <p>{{truncate $post.Record.Body 200}}</p>
            {{end}}
        </div>
        {{end}}
    {{end}}
    {{end}}

    {{if .TopUsers}}
    <h2>Top Users</h2>
    <ul>
    {{range .TopUsers}}
        <li><strong>{{.Author}}</strong> {{score .UserRiskScore}} ({{.Tier}}): {{.Explanation}}</li>
    {{end}}
    </ul>
    {{end}}

    <hr>
    <p><small>This report was generated automatically by the Risk Monitor Bot.</small></p>
</body>
</html>
`))

var alertsTemplate = template.Must(template.New("alerts").Funcs(funcs).Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Monitored Author Alert</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #d13438; color: white; padding: 20px; border-radius: 5px; }
        .alert { border-left: 4px solid #d13438; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .alert-meta { color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Monitored Author Alert</h1>
        <p>{{len .}} new high-risk posts</p>
    </div>
    {{range .}}
    <div class="alert">
        <strong>{{.Author}}</strong> - {{score .Score}} {{.Category}}
        <div class="alert-meta">{{.Timestamp.Format "Jan 2, 2006 15:04 UTC"}} | <a href="{{.Permalink}}">{{.PostID}}</a></div>
        <p>{{.Preview}}</p>
        <p><em>{{.Explanation}}</em></p>
    </div>
    {{end}}
</body>
</html>
`))

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Service) buildEmailText(report *models.Report) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("Violence Risk Report - %s\n", title(report.Period)))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Total Posts: %d\n", report.TotalPosts))
	text.WriteString(fmt.Sprintf("High Risk Posts: %d\n", len(report.HighRiskPosts)))

	counts := categoryCounts(report)
	for _, name := range sortedKeys(counts) {
		text.WriteString(fmt.Sprintf("%s: %d\n", title(strings.ReplaceAll(name, "_", " ")), counts[name]))
	}

	if len(report.HighRiskPosts) > 0 {
		text.WriteString("\nHIGHEST RISK POSTS\n")
		text.WriteString("==================\n")

		for i, post := range report.HighRiskPosts {
			if i >= emailPostLimit {
				break
			}
			text.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, postTitle(post)))
			text.WriteString(fmt.Sprintf("   Author: %s | Group: %s | Date: %s\n",
				post.Record.Author, post.Record.SourceGroup, post.Record.CreatedAt.Format("Jan 2, 2006")))
			text.WriteString(fmt.Sprintf("   Score: %.2f (%s)\n", post.Score(), post.Classification.Category))
			text.WriteString(fmt.Sprintf("   Why: %s\n", post.Classification.Explanation))
			if post.Record.Permalink != "" {
				text.WriteString(fmt.Sprintf("   URL: %s\n", post.Record.Permalink))
			}
		}
	}

	if len(report.TopUsers) > 0 {
		text.WriteString("\nTOP USERS\n")
		text.WriteString("=========\n")
		for _, user := range report.TopUsers {
			text.WriteString(fmt.Sprintf("%s: %.2f (%s) %s\n", user.Author, user.UserRiskScore, user.Tier, user.Explanation))
		}
	}

	text.WriteString("\n---\nThis report was generated automatically by the Risk Monitor Bot.\n")

	return text.String()
}

func (s *Service) buildAlertsText(alerts []models.Alert) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("%d new high-risk posts from monitored authors\n\n", len(alerts)))
	for i, alert := range alerts {
		text.WriteString(fmt.Sprintf("%d. %s - %.2f %s\n", i+1, alert.Author, alert.Score, alert.Category))
		text.WriteString(fmt.Sprintf("   Post: %s | %s\n", alert.PostID, alert.Timestamp.Format("2006-01-02 15:04 UTC")))
		if alert.Permalink != "" {
			text.WriteString(fmt.Sprintf("   URL: %s\n", alert.Permalink))
		}
		text.WriteString(fmt.Sprintf("   %s\n", alert.Preview))
	}

	return text.String()
}

// categoryCounts reads the per-category counts the pipeline puts in the report summary
func categoryCounts(report *models.Report) map[string]int {
	counts, _ := report.Summary["categories"].(map[string]int)
	return counts
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func postTitle(post models.LabeledPost) string {
	if strings.TrimSpace(post.Record.Title) != "" {
		return post.Record.Title
	}
	return truncate(post.Record.Body, 80)
}

func title(s string) string {
	return cases.Title(language.English).String(s)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length]) + "..."
}
