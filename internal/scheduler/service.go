package scheduler

import (
	"context"
	"time"

	"github.com/palma21/risk-monitor-bot/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	collectionTimeout = 30 * time.Minute
	monitorTimeout    = 20 * time.Minute
)

// Runner is the pipeline triggered on schedule
type Runner interface {
	RunCollection(ctx context.Context) error
	RunMonitor(ctx context.Context) error
}

// Service handles scheduling of collection and monitor runs
type Service struct {
	config *config.Config
	runner Runner
	cron   *cron.Cron
}

// NewService creates a new scheduler service. A run still in progress when
// its next slot comes up is skipped.
func NewService(cfg *config.Config, runner Runner) *Service {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	return &Service{
		config: cfg,
		runner: runner,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// CollectionSchedule returns the cron expression of the report schedule
func CollectionSchedule(schedule string) string {
	switch schedule {
	case "daily":
		// Run daily at 9 AM UTC
		return "0 0 9 * * *"
	case "weekly":
		// Run weekly on Monday at 9 AM UTC
		return "0 0 9 * * MON"
	default:
		// Default to weekly
		return "0 0 9 * * MON"
	}
}

// Start registers the collection and monitor jobs and starts the scheduler
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(CollectionSchedule(s.config.ReportSchedule), s.runCollection)
	if err != nil {
		return err
	}

	_, err = s.cron.AddFunc(s.config.MonitorCron, s.runMonitor)
	if err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %s collection schedule and monitor cron %q", s.config.ReportSchedule, s.config.MonitorCron)
	return nil
}

func (s *Service) runCollection() {
	logrus.Info("Starting scheduled collection run")
	ctx, cancel := context.WithTimeout(context.Background(), collectionTimeout)
	defer cancel()

	if err := s.runner.RunCollection(ctx); err != nil {
		logrus.Errorf("Scheduled collection run failed: %v", err)
	}
}

func (s *Service) runMonitor() {
	logrus.Info("Starting scheduled monitor run")
	ctx, cancel := context.WithTimeout(context.Background(), monitorTimeout)
	defer cancel()

	if err := s.runner.RunMonitor(ctx); err != nil {
		logrus.Errorf("Scheduled monitor run failed: %v", err)
	}
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}
