package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fieldworks/fieldsync/internal/config"
	"github.com/fieldworks/fieldsync/internal/store"
	"github.com/fieldworks/fieldsync/internal/syncqueue"
)

var (
	queueDBOverride string
	queueJSONOutput bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and control the sync queue",
	Long:  "Show queue counts, retry failed items, and clear completed residue without running the engine.",
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueDBOverride, "db", "",
		"Database path (overrides config and FIELDSYNC_DB_PATH)")
	queueCmd.PersistentFlags().BoolVar(&queueJSONOutput, "json", false,
		"Output in JSON format")

	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show item counts per status",
	Args:  cobra.NoArgs,
	RunE:  runQueueStatus,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset failed items and run a replay pass",
	Args:  cobra.NoArgs,
	RunE:  runQueueRetry,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Purge completed residue left by interrupted passes",
	Args:  cobra.NoArgs,
	RunE:  runQueueClear,
}

// resolveQueue opens the local database and builds a queue manager around it.
// The caller owns closing the returned store.
func resolveQueue() (*syncqueue.Manager, store.Store, error) {
	dbPath := queueDBOverride
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		dbPath = cfg.Database.Path
	}

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	return syncqueue.New(syncqueue.Options{Store: db}), db, nil
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	queue, db, err := resolveQueue()
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := queue.GetQueueStatus(context.Background())
	if err != nil {
		return fmt.Errorf("queue status: %w", err)
	}

	if queueJSONOutput {
		return printJSON(cmd.OutOrStdout(), status)
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "STATUS\tCOUNT")
	fmt.Fprintf(w, "pending\t%d\n", status.Pending)
	fmt.Fprintf(w, "processing\t%d\n", status.Processing)
	fmt.Fprintf(w, "failed\t%d\n", status.Failed)
	fmt.Fprintf(w, "completed\t%d\n", status.Completed)
	return w.Flush()
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	queue, db, err := resolveQueue()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := queue.RetryFailed(ctx); err != nil {
		return fmt.Errorf("retry failed items: %w", err)
	}

	status, err := queue.GetQueueStatus(ctx)
	if err != nil {
		return fmt.Errorf("queue status: %w", err)
	}

	if queueJSONOutput {
		return printJSON(cmd.OutOrStdout(), status)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Replay pass complete. %d pending, %d failed.\n",
		status.Pending, status.Failed)
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	queue, db, err := resolveQueue()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := queue.ClearCompleted(context.Background())
	if err != nil {
		return fmt.Errorf("clear completed: %w", err)
	}

	if queueJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]int64{"cleared": n})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed items.\n", n)
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
