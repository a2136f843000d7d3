package notifications

import "github.com/palma21/risk-monitor-bot/internal/models"

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	SendReport(report *models.Report) error
	SendAlerts(alerts []models.Alert) error
}
