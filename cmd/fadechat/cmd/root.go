// Package cmd implements the fadechat terminal client: create or join an
// ephemeral room on a fadechatd server and chat until it expires.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fadechat/fadechat/internal/infrastructure/backend/remote"
	"github.com/fadechat/fadechat/internal/infrastructure/configs"
	"github.com/fadechat/fadechat/internal/infrastructure/env"
)

var (
	serverURL  string
	origin     string
	verbose    bool
	configPath string

	logger *zap.SugaredLogger
	cfg    *configs.Config
	store  *remote.Client
)

var rootCmd = &cobra.Command{
	Use:   "fadechat",
	Short: "Ephemeral two-person chat rooms that vanish when someone leaves",
	Long: `fadechat connects to a fadechatd sync server and runs an ephemeral
chat room in your terminal. Rooms have no accounts and no history: when a
participant disconnects, the room counts down and destroys itself.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger()

		path := configPath
		if path == "" {
			path = env.GetString("FADECHAT_CONFIG", "")
		}
		c, err := configs.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rc, err := remote.Dial(ctx, serverURL, logger)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", serverURL, err)
		}
		store = rc
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
		logger.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "ws://localhost:8080/api/sync", "sync server websocket URL")
	rootCmd.PersistentFlags().StringVar(&origin, "origin", "https://fadechat.app", "frontend origin used for share links")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log session internals to stderr")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (falls back to $FADECHAT_CONFIG)")
}

func newLogger() *zap.SugaredLogger {
	if verbose {
		return zap.Must(zap.NewDevelopment()).Sugar()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	return zap.Must(cfg.Build()).Sugar()
}
