package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/npezzotti/go-messenger/internal/api"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/tickets"
	"github.com/npezzotti/go-messenger/internal/updates"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat websocket and the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger("messenger")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.ServerAddr = addr
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	in, err := openInfra(logger, cfg, statsUpdater, true, "messenger")
	if err != nil {
		return err
	}
	defer in.Close()

	registry := in.registry()
	presenceSvc := in.presence()
	members := in.members()

	chatSvc, producer := in.chatService(registry, presenceSvc, members)
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Println("push producer close:", err)
		}
	}()
	ticketSvc := tickets.NewService(logger, in.repo, in.publisher(), chatSvc)

	dispatcher := updates.NewDispatcher(logger, statsUpdater, updates.DispatcherOptions{
		Workers:           cfg.Updates.Workers,
		PendingLimit:      cfg.Updates.PendingLimit,
		WarningThreshold:  cfg.Updates.WarningThreshold,
		OverflowTimeLimit: cfg.Updates.OverflowTimeLimit,
	})
	listener := updates.NewListener(logger, in.bus, cfg.UpdatesSubject, registry, members, dispatcher, statsUpdater)
	if err := listener.Start(cmd.Context()); err != nil {
		return fmt.Errorf("updates listener: %w", err)
	}

	chatServer := server.NewChatServer(logger, registry, chatSvc, presenceSvc)
	go chatServer.Run()

	app := api.NewMessengerApp(mux, logger, api.MessengerDeps{
		Repo:       in.repo,
		ChatServer: chatServer,
		Registry:   registry,
		Chat:       chatSvc,
		Tickets:    ticketSvc,
		Tokens:     auth.NewTokens(cfg.SigningKey),
	}, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	waitForShutdown(logger, errCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutdownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	listener.Stop()
	logger.Println("shutdown complete")
	return nil
}
