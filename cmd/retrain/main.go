package main

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/huangang/spamguard/internal/config"
	"github.com/huangang/spamguard/internal/models"
	"github.com/huangang/spamguard/internal/services"
	"github.com/huangang/spamguard/internal/services/artifact"
	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "spamguard-retrain",
	Short: "Retrain the spam classifier from collected feedback",
	Long:  "Runs one retraining pass over unprocessed feedback, saves a new model version and marks the consumed feedback.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		// stdout carries the report.
		logger.InitWithOutput(cfg.Log.Level, os.Stderr)

		if err := models.InitDB(&cfg.Database); err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		if err := models.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db := models.GetDB(); db != nil {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
}

// retrainTrigger wires the pipeline the same way the server does, minus the
// queue: the CLI runs synchronously.
func retrainTrigger() (*retrain.Trigger, *artifact.FileStore, *redis.Client) {
	db := models.GetDB()
	rdb := services.NewRedisClient(&cfg.Redis)
	store := artifact.NewFileStore(cfg.ML.ModelDir, cfg.ML.KeepBackups)
	feedback := services.NewFeedbackService(db, cfg.ML.RetrainThreshold)

	trigger := retrain.NewTrigger(retrain.TriggerConfig{
		Pipeline: retrain.NewPipeline(feedback, store),
		Locker:   services.NewRetrainLocker(&cfg.ML, db, rdb),
		Limiter:  retrain.NewLimiter(cfg.ML.RetrainInterval),
		Store:    store,
		Recorder: services.NewRetrainHistory(db),
		Defaults: services.RetrainOptions(&cfg.ML),
		Timeout:  cfg.ML.LockTimeout,
	})
	return trigger, store, rdb
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
