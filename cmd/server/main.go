package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/azkastekom/massweb/internal/config"
	"github.com/azkastekom/massweb/internal/server"
	"github.com/azkastekom/massweb/pkg/logger"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var (
	projectID    uint
	delaySeconds int
	async        bool
)

var rootCmd = &cobra.Command{
	Use:   "massweb",
	Short: "MassWeb - Mass content generation and publishing",
	Long:  `MassWeb expands a tabular dataset through templates into one page per value combination and drips the pages out to publishers.`,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	},
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MassWeb %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Regenerate a project's content from its dataset",
	RunE:  runGenerate,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a project's pending content",
	RunE:  runPublish,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")

	generateCmd.Flags().UintVarP(&projectID, "project", "p", 0, "project id")
	_ = generateCmd.MarkFlagRequired("project")

	publishCmd.Flags().UintVarP(&projectID, "project", "p", 0, "project id")
	publishCmd.Flags().IntVarP(&delaySeconds, "delay", "d", -1, "seconds between items (defaults to publisher.default_delay_seconds)")
	publishCmd.Flags().BoolVar(&async, "async", false, "queue the job for the scheduler instead of running it here")
	_ = publishCmd.MarkFlagRequired("project")

	rootCmd.AddCommand(versionCmd, generateCmd, publishCmd)
}

// bootstrap loads configuration and builds a server without starting it
func bootstrap() (*server.Server, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		_ = appLogger.Sync()
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}
	return srv, appLogger, nil
}

func runServer(*cobra.Command, []string) error {
	srv, appLogger, err := bootstrap()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting MassWeb server", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	// Graceful shutdown
	if err := srv.Shutdown(context.Background()); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	srv, appLogger, err := bootstrap()
	if err != nil {
		return err
	}
	defer appLogger.Sync()
	defer srv.Shutdown(context.Background())

	start := time.Now()
	result, err := srv.Generator.Generate(cmd.Context(), projectID)
	if err != nil {
		return err
	}
	appLogger.Info("Generation finished", zap.Uint("project_id", projectID), zap.Duration("elapsed", time.Since(start)))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runPublish(cmd *cobra.Command, _ []string) error {
	srv, appLogger, err := bootstrap()
	if err != nil {
		return err
	}
	defer appLogger.Sync()
	defer srv.Shutdown(context.Background())

	delay := delaySeconds
	if delay < 0 {
		delay = srv.Config.Publisher.DefaultDelaySeconds
	}

	// An interrupted run hands its lease back so the scheduler can resume it
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if async {
		job, err := srv.Jobs.Create(ctx, projectID, delay)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued publish job %s for project %d\n", job.ID, job.ProjectID)
		return nil
	}

	job, err := srv.Jobs.PublishNow(ctx, projectID, delay)
	if job != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Publish job %s %s: %d/%d items\n", job.ID, job.Status, job.ProcessedCount, job.TotalContents)
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
