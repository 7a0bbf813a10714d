package main

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

var (
	runMinSamples int
	runSiteID     string
)

var errRunFailed = errors.New("retraining did not produce a new model")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one retraining pass and print the report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		trigger, _, rdb := retrainTrigger()
		if rdb != nil {
			defer rdb.Close()
		}

		rep, err := trigger.RunNow(ctx, runSiteID, runMinSamples)
		if errors.Is(err, retrain.ErrAlreadyRunning) {
			return eris.Wrap(err, "another retraining run holds the lock")
		}
		if err != nil {
			return eris.Wrap(err, "retrain")
		}

		if err := printJSON(rep); err != nil {
			return err
		}
		if !rep.ModelSaved() {
			return errRunFailed
		}
		logger.Info().Str("version", rep.Version).
			Msg("[Retrain] New model saved; running servers pick it up on POST /api/v1/admin/model/reload or restart")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lock state, last run and active model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		trigger, _, rdb := retrainTrigger()
		if rdb != nil {
			defer rdb.Close()
		}
		st, err := trigger.Status(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "retrain status")
		}
		return printJSON(st)
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List archived models",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, store, rdb := retrainTrigger()
		if rdb != nil {
			defer rdb.Close()
		}
		backups, err := store.ListBackups(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "list backups")
		}
		return printJSON(backups)
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	runCmd.Flags().IntVar(&runMinSamples, "min-samples", 0, "minimum unique samples required (0 = config default)")
	runCmd.Flags().StringVar(&runSiteID, "site", "", "only use feedback from this site id")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupsCmd)
}
