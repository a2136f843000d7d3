package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/palma21/risk-monitor-bot/internal/app"
	"github.com/palma21/risk-monitor-bot/internal/config"
	"github.com/palma21/risk-monitor-bot/internal/monitoring"
	"github.com/palma21/risk-monitor-bot/internal/sources"
	"github.com/palma21/risk-monitor-bot/internal/state"
	"github.com/palma21/risk-monitor-bot/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := cli.App{
		Name:  "run-once",
		Usage: "run one collection and one monitor pass against local storage and print the report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data-dir",
				Value: "test_output",
				Usage: "directory for run tables and monitor state",
			},
			&cli.BoolFlag{
				Name:  "sample",
				Usage: "use built-in sample posts instead of calling Reddit",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Minute,
			},
		},
		Action: run,
	}
	cliApp.RunAndExitOnError()
}

func run(cctx *cli.Context) error {
	fmt.Println("🤖 Risk Monitor Bot - Single Run")
	fmt.Println("================================")

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	// always local, whatever the environment says
	os.Setenv("STORAGE_BACKEND", "local")
	os.Setenv("STATE_BACKEND", "blob")
	os.Setenv("LOCAL_DATA_DIR", cctx.String("data-dir"))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cctx.Duration("timeout"))
	defer cancel()

	printer := &TerminalNotifier{}
	var service *monitoring.Service
	if cctx.Bool("sample") {
		service, err = sampleService(cfg, printer)
	} else {
		var components *app.Components
		components, err = app.Build(ctx, cfg, printer)
		if err == nil {
			defer components.Close()
			service = components.Service
		}
	}
	if err != nil {
		return err
	}

	fmt.Println("\n📡 Collecting and scoring posts...")
	if err := service.RunCollection(ctx); err != nil {
		return fmt.Errorf("collection run failed: %w", err)
	}

	fmt.Println("\n👀 Checking monitored authors...")
	if err := service.RunMonitor(ctx); err != nil {
		return fmt.Errorf("monitor run failed: %w", err)
	}
	if !printer.alerted {
		fmt.Println("   No new alerts")
	}

	fmt.Printf("\n✅ Run completed, tables saved under %s\n", cctx.String("data-dir"))
	return nil
}

// sampleService wires the pipeline to the offline sample collector
func sampleService(cfg *config.Config, printer *TerminalNotifier) (*monitoring.Service, error) {
	local, err := storage.NewLocalStorage(cfg.LocalDataDir)
	if err != nil {
		return nil, err
	}
	scorer, err := app.NewScorer(cfg)
	if err != nil {
		return nil, err
	}

	collector := newSampleCollector(time.Now().UTC())
	monitor := monitoring.NewMonitor(state.NewBlobStore(local), collector, scorer, monitoring.MonitorConfig{
		Threshold:  cfg.MonitorThreshold,
		Window:     cfg.MonitorWindow,
		MaxAuthors: cfg.MaxMonitoredAuthors,
		Workers:    cfg.ScoringWorkers,
		Ignored:    cfg.IgnoredAuthors,
	})
	return monitoring.NewService(cfg, local, printer, scorer, monitor, []sources.Collector{collector}), nil
}
