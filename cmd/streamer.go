package cmd

import (
	"context"
	"net/http"

	"github.com/npezzotti/go-messenger/internal/api"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/streamer"
	"github.com/spf13/cobra"
)

var streamerCmd = &cobra.Command{
	Use:   "streamer",
	Short: "Stream unread counters to backend services",
	RunE:  runStreamer,
}

func runStreamer(cmd *cobra.Command, args []string) error {
	logger := newLogger("streamer")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.StreamerAddr = addr
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	in, err := openInfra(logger, cfg, statsUpdater, false, "streamer")
	if err != nil {
		return err
	}
	defer in.Close()

	st := streamer.NewServer(logger, in.unread(), auth.NewTokens(cfg.SigningKey), cfg.StreamerAudiences, statsUpdater)
	app := api.NewStreamerApp(mux, logger, cfg.StreamerAddr, st, func(ctx context.Context) error {
		return in.rdb.Ping(ctx).Err()
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	waitForShutdown(logger, errCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Println("streamer shutdown:", err)
	}

	logger.Println("shutdown complete")
	return nil
}
