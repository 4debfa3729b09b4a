package cmd

import (
	"context"
	"time"

	"github.com/npezzotti/go-messenger/internal/jobs"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/spf13/cobra"
)

// presenceRetention bounds how long activity records of gone users are kept.
const presenceRetention = 24 * time.Hour

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run presence tracking and inactive chat autoclose",
	Long: "Run presence tracking and inactive chat autoclose.\n" +
		"The presence tracker keeps its state in memory: run a single instance.",
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	logger := newLogger("jobs")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in, err := openInfra(logger, cfg, stats.Nop{}, true, "messenger-jobs")
	if err != nil {
		return err
	}
	defer in.Close()

	presenceSvc := in.presence()
	chatSvc, producer := in.chatService(in.registry(), presenceSvc, in.members())
	defer producer.Close()

	tracker := jobs.NewPresenceTracker(logger, presenceSvc, in.publisher(), cfg.Jobs.OfflineThreshold)
	autoclose := jobs.NewAutoclose(logger, in.repo, chatSvc, cfg.Jobs.AutocloseAfter, cfg.Jobs.AutocloseBatchSize)

	runner := jobs.NewRunner(logger,
		tracker.Job(cfg.Jobs.PresenceCheckInterval),
		jobs.PresenceCleanup(presenceSvc, cfg.Jobs.PresenceCleanupInterval, presenceRetention),
		autoclose.Job(cfg.Jobs.AutocloseCheckInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	waitForShutdown(logger, nil)

	logger.Println("stopping jobs...")
	cancel()
	runner.Stop()
	logger.Println("shutdown complete")
	return nil
}
