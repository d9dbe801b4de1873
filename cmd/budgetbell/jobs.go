package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/scheduler"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Drain due notification jobs once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.srv.Runner().Drain(cmd.Context())
		if errors.Is(err, scheduler.ErrBusy) {
			fmt.Fprintln(cmd.ErrOrStderr(), "another drain is running, skipped")
			return nil
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var recurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Evaluate recurring bill rules for today (UTC)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, today, err := a.srv.Runner().RunRecurring(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"inserted": res, "date": today.Format(database.DateFormat)})
	},
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Queue the weekly spending digest",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.srv.Runner().RunDigest(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"enqueued": n})
	},
}

var (
	purgeOlderThan time.Duration
	purgeArchive   bool
	purgeBatch     int
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete sent and failed queue rows, optionally archiving them to S3 first",
	Long: `Delete terminal (sent or failed) notification jobs last updated before
now minus --older-than. With --archive each batch is uploaded as gzipped
JSON lines to the configured bucket before it is deleted; a failed upload
keeps the rows.

Examples:
  budgetbell purge --older-than 720h
  budgetbell purge --older-than 2160h --archive`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if purgeOlderThan <= 0 {
			return errors.New("--older-than must be positive")
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cutoff := time.Now().Add(-purgeOlderThan)
		res, err := a.srv.Archiver().Purge(cmd.Context(), cutoff, purgeBatch, purgeArchive)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "age of rows to remove")
	purgeCmd.Flags().BoolVar(&purgeArchive, "archive", false, "upload rows to S3 before deleting")
	purgeCmd.Flags().IntVar(&purgeBatch, "batch", 500, "rows per archive object")
}
