package main

import (
	"fmt"
	"strings"

	"github.com/palma21/risk-monitor-bot/internal/models"
)

// TerminalNotifier prints reports and alerts instead of sending them
type TerminalNotifier struct {
	alerted bool
}

func (t *TerminalNotifier) SendReport(report *models.Report) error {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Println("📊 VIOLENCE RISK REPORT")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("📅 Period: %s\n", report.Period)
	fmt.Printf("🕒 Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("📈 Total Posts: %d\n", report.TotalPosts)
	fmt.Printf("⚠️  High Risk Posts: %d\n", len(report.HighRiskPosts))

	if categories, ok := report.Summary["categories"].(map[string]int); ok {
		fmt.Println("\n🏷️  Categories:")
		for category, count := range categories {
			fmt.Printf("   • %-18s %d posts\n", category+":", count)
		}
	}
	if promoted, ok := report.Summary["promoted_authors"].(int); ok {
		fmt.Printf("\n👤 Newly monitored authors: %d\n", promoted)
	}

	fmt.Println("\n📝 Highest Risk Posts:")
	for i, post := range report.HighRiskPosts {
		if i >= 5 {
			fmt.Printf("   ... and %d more posts\n", len(report.HighRiskPosts)-5)
			break
		}
		text := strings.TrimSpace(post.Record.Title)
		if text == "" {
			text = post.Record.Body
		}
		fmt.Printf("\n   %d. [r/%s] %s\n", i+1, post.Record.SourceGroup, truncate(text, 80))
		fmt.Printf("      👤 Author: %s\n", post.Record.Author)
		fmt.Printf("      ⭐ Score: %.2f (%s)\n", post.Score(), post.Classification.Category)
		fmt.Printf("      💭 Why: %s\n", post.Classification.Explanation)
		if post.Record.Permalink != "" {
			fmt.Printf("      🔗 URL: %s\n", post.Record.Permalink)
		}
	}

	if len(report.TopUsers) > 0 {
		fmt.Println("\n🚩 Top Users:")
		for _, user := range report.TopUsers {
			fmt.Printf("   • %-20s %.2f %-8s %s\n", user.Author, user.UserRiskScore, user.Tier, user.Explanation)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	return nil
}

func (t *TerminalNotifier) SendAlerts(alerts []models.Alert) error {
	t.alerted = t.alerted || len(alerts) > 0
	for _, alert := range alerts {
		fmt.Println("\n🚨 ALERT")
		fmt.Printf("Author: %s\n", alert.Author)
		fmt.Printf("Post: %s (%s)\n", alert.PostID, alert.Permalink)
		fmt.Printf("Score: %.2f %s\n", alert.Score, alert.Category)
		fmt.Printf("Preview: %s\n", alert.Preview)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
