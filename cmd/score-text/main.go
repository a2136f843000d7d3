package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/palma21/risk-monitor-bot/internal/app"
	"github.com/palma21/risk-monitor-bot/internal/config"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := cli.App{
		Name:      "score-text",
		Usage:     "score text for violence risk and print the labeled post as JSON",
		ArgsUsage: "[text...]",
		Description: "Scores the arguments as one text. Without arguments every line of stdin is scored " +
			"as its own record. Moderation calibration runs when OPENAI_API_KEY is set.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "group",
				Usage: "source group (subreddit) the text was posted in, news groups enable the report filter",
			},
			&cli.StringFlag{
				Name:  "author",
				Value: "cli",
			},
			&cli.BoolFlag{
				Name:  "compact",
				Usage: "print one JSON object per line",
			},
		},
		Action: run,
	}
	cliApp.RunAndExitOnError()
}

func run(cctx *cli.Context) error {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logrus.SetOutput(os.Stderr)

	scorer, err := app.NewScorer(cfg)
	if err != nil {
		return err
	}

	var texts []string
	if cctx.NArg() > 0 {
		texts = []string{strings.Join(cctx.Args().Slice(), " ")}
	} else {
		texts, err = readLines(os.Stdin)
		if err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	records := make([]models.TextRecord, 0, len(texts))
	for i, text := range texts {
		records = append(records, models.TextRecord{
			ID:          fmt.Sprintf("cli-%d", i+1),
			Author:      cctx.String("author"),
			Body:        text,
			SourceGroup: cctx.String("group"),
			CreatedAt:   now,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	if !cctx.Bool("compact") {
		enc.SetIndent("", "  ")
	}
	for _, post := range scorer.ScoreBatch(context.Background(), records) {
		if err := enc.Encode(post.Row()); err != nil {
			return err
		}
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return lines, nil
}
