package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avastusrada/permsync/pkg/observability"
	"github.com/avastusrada/permsync/pkg/onboarding"
)

func main() {
	serverURL := flag.String("server", getEnv("PERMSYNC_SERVER_URL", "http://localhost:8080"), "Base URL of the permsync server")
	token := flag.String("token", os.Getenv("PERMSYNC_TOKEN"), "CMS bearer token of the joining user")
	groupID := flag.String("group", "", "Group entity ID to join")
	userID := flag.String("user", "", "Person entity ID of the joining user")
	interval := flag.Duration("poll-interval", onboarding.DefaultPollInterval, "Gap between membership checks")
	budget := flag.Duration("poll-budget", onboarding.DefaultPollBudget, "Total time to wait for membership visibility")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *groupID == "" || *userID == "" {
		logger.Fatal("Both -group and -user are required")
	}
	if *token == "" {
		logger.Fatal("A token is required, set -token or PERMSYNC_TOKEN")
	}

	client, err := onboarding.NewClient(*serverURL, *token)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create client")
	}

	// The joiner logs through the structured logger; keep the CLI's own
	// output on logrus and silence the inner one unless -verbose is set.
	innerLevel := observability.ErrorLevel
	innerOut := io.Writer(os.Stderr)
	if *verbose {
		innerLevel = observability.DebugLevel
	} else {
		innerOut = io.Discard
	}
	joiner := onboarding.NewJoiner(client, observability.NewLogger(innerLevel, innerOut),
		onboarding.WithPollInterval(*interval),
		onboarding.WithPollBudget(*budget),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"server": *serverURL,
		"group":  *groupID,
		"user":   *userID,
	}).Info("Joining group")

	started := time.Now()
	phase, err := joiner.Run(ctx, *groupID, *userID)
	elapsed := time.Since(started).Round(time.Millisecond)

	switch phase {
	case onboarding.PhaseConfirmed:
		logger.WithField("elapsed", elapsed.String()).Info("Membership confirmed, task permissions will follow shortly")
	case onboarding.PhaseTimedOut:
		logger.WithField("elapsed", elapsed.String()).Warn("Join accepted but membership was not visible within the budget")
		os.Exit(2)
	default:
		logger.WithError(err).Error("Join failed")
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
