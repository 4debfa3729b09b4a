package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/spf13/cobra"
)

var (
	envFile     string
	addr        string
	databaseURL string
)

var rootCmd = &cobra.Command{
	Use:          "messenger",
	Short:        "Realtime chat and support ticket messenger",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with environment overrides")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "listen address, overrides MESSENGER_ADDR or STREAMER_ADDR")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres connection url, overrides DATABASE_URL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(streamerCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func newLogger(name string) *log.Logger {
	return log.New(os.Stderr, fmt.Sprintf("[%s] ", name), log.LstdFlags)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// waitForShutdown blocks until a termination signal arrives or errCh
// reports a server failure.
func waitForShutdown(logger *log.Logger, errCh <-chan error) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}
}
