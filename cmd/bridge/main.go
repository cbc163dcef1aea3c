package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunnel/internal/bridge"
	"tunnel/internal/dispatcher"
	"tunnel/internal/interpreter"
	"tunnel/pkg/config"
	"tunnel/pkg/logger"
	"tunnel/pkg/notifier"
	"tunnel/pkg/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Forward game table changes to the game server callback",
	Long: `bridge watches the game session and game event tables and posts every
new session state and event to <callback.base_url>/api/tunnel/callback.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (environment variables override it)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tunnel bridge %s\n", version)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(parent context.Context) error {
	// 1. Load config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize logger
	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer l.Sync()

	l.Info("bridge initializing",
		zap.String("env", cfg.Environment),
		zap.String("source", cfg.Source.Kind),
		zap.String("checkpoint", cfg.Checkpoint.Backend))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize checkpoint backend
	stores, err := openCheckpoints(ctx, cfg.Checkpoint)
	if err != nil {
		l.Error("failed to open checkpoint backend", err)
		return err
	}
	defer stores.Close()

	// 4. Initialize notifier
	n := notifier.New(l.Named("notifier"), notifier.Config{
		BaseURL:                  cfg.Callback.BaseURL,
		ConnectTimeout:           cfg.Callback.ConnectTimeout,
		WriteTimeout:             cfg.Callback.WriteTimeout,
		ReadTimeout:              cfg.Callback.ReadTimeout,
		Workers:                  cfg.Callback.Workers,
		QueueSize:                cfg.Callback.QueueSize,
		RetryOnConnectionFailure: cfg.Callback.RetryOnConnectionFailure,
	})
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.Close(drainCtx); err != nil {
			l.Warn("notifier did not drain before shutdown", zap.Error(err))
		}
	}()

	// 5. Initialize sources
	sources, err := openSources(ctx, cfg, stores, l)
	if err != nil {
		l.Error("failed to open change sources", err)
		return err
	}
	defer sources.Close()

	// 6. Create service
	pipelines := []bridge.Pipeline{
		{
			Source: sources.sessions,
			Dispatcher: dispatcher.New(l.Named("dispatcher"), cfg.Tunnels.Sessions,
				interpreter.NewSessionInterpreter(l.Named("sessions")), n),
		},
		{
			Source: sources.events,
			Dispatcher: dispatcher.New(l.Named("dispatcher"), cfg.Tunnels.Events,
				interpreter.NewEventInterpreter(l.Named("events")), n),
		},
	}

	// 7. Start observability server
	obsServer := server.New(cfg.Server.Addr, server.Info{
		Service:     cfg.ServiceName,
		Version:     version,
		Description: "Change stream to game server callback bridge",
	}, l)
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obsServer.Shutdown(shutdownCtx)
	}()

	svc := bridge.NewService(l, pipelines, obsServer.SetReady)

	// 8. Start service
	l.Info("bridge starting", zap.String("callback_url", n.URL()))
	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("bridge failed", err)
		return err
	}

	l.Info("bridge stopping")
	return nil
}
