package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agenticassets/AA-coding-agent/internal/cli"
	"github.com/agenticassets/AA-coding-agent/internal/config"
	"github.com/agenticassets/AA-coding-agent/internal/generate"
	internal_http "github.com/agenticassets/AA-coding-agent/internal/http"
	"github.com/agenticassets/AA-coding-agent/internal/log"
	"github.com/agenticassets/AA-coding-agent/internal/registry"
	"github.com/agenticassets/AA-coding-agent/internal/sandbox"
	internal_storage "github.com/agenticassets/AA-coding-agent/internal/storage"
	"github.com/agenticassets/AA-coding-agent/pkg/orchestrator"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "agentd"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task execution orchestrator",
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.GetLogger()

		cfg, err := config.Load()
		if err != nil {
			logger.Errorf("Failed to load configuration: %v", err)
			os.Exit(1)
		}

		store, err := internal_storage.InitStore(cfg.DatabaseURL)
		if err != nil {
			logger.Errorf("Failed to connect to database: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var reg orchestrator.Registry
		if cfg.RedisAddr != "" {
			r := registry.NewRedisRegistry(cfg.RedisAddr)
			if err := r.Ping(ctx); err != nil {
				logger.Errorf("Failed to connect to redis at %s: %v", cfg.RedisAddr, err)
				os.Exit(1)
			}
			defer r.Close()
			reg = r
		}

		var gen orchestrator.Generator
		if cfg.GeneratorURL != "" {
			gen = generate.NewClient(cfg.GeneratorURL)
		}

		sb := sandbox.NewClient(cfg.SandboxAPIURL, cfg.SandboxAPIToken)

		svc := orchestrator.NewService(
			ctx,
			store,
			sb,
			sb,
			sb,
			gen,
			config.EnvCredentialSource{MaxDurationMinutes: cfg.MaxTaskDurationMinutes},
			reg,
			logger,
			orchestrator.Config{
				MaxDurationMinutes:     cfg.MaxTaskDurationMinutes,
				DefaultDurationMinutes: cfg.DefaultTaskDurationMinutes,
				PollInterval:           cfg.PollInterval,
				BranchNameWait:         cfg.BranchNameWait,
			},
		)

		srv := internal_http.NewServer(svc, cfg.InternalAPIToken)
		go func() {
			logger.Infof("Starting agentd on :%s", cfg.Port)
			if err := srv.Run(":" + cfg.Port); err != nil {
				logger.Errorf("Server stopped: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		logger.Infof("Shutting down, draining in-flight runs")
		svc.Drain()
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (defaults to DATABASE_URL)")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
