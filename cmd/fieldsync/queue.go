// Queue inspection commands: list, count, retry, discard.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the local mutation queue",
}

var (
	queueListStatus string
	queueListEntity string
)

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued operations",
	Long: `List prints the queued operations for the configured session in enqueue
order.

Example:
  fieldsync queue list
  fieldsync queue list --status failed
  fieldsync queue list --entity work_order --json`,
	RunE: runQueueList,
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of unsynced operations",
	RunE:  runQueueCount,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Return permanently failed operations to the pending queue",
	RunE:  runQueueRetry,
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <operation-id>",
	Short: "Abandon a queued operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueDiscard,
}

func init() {
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "filter by status (pending, in_flight, failed)")
	queueListCmd.Flags().StringVar(&queueListEntity, "entity", "", "filter by entity type")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCountCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueDiscardCmd)
}

// openStore opens the configured mutation queue for direct inspection.
func openStore() (*store.Store, error) {
	return store.Open(cfg.DataDir, cfg.SessionKey, cfg.RetryPolicy)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	filter := store.Filter{EntityType: queueListEntity}
	if queueListStatus != "" {
		filter.Statuses = []models.OperationStatus{models.OperationStatus(queueListStatus)}
	}

	ops, err := st.List(filter)
	if err != nil {
		return fmt.Errorf("list operations: %w", err)
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(ops)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENTITY\tKIND\tTARGET\tSTATUS\tATTEMPTS\tQUEUED\tLAST ERROR")
	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			op.ID, op.EntityType, op.Kind, op.TargetID, op.Status,
			op.AttemptCount, op.MaxAttempts,
			op.CreatedTime().Format(time.RFC3339), op.LastError)
	}
	return w.Flush()
}

func runQueueCount(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	count, err := st.Count(store.Filter{
		Statuses: []models.OperationStatus{models.StatusPending, models.StatusFailed},
	})
	if err != nil {
		return fmt.Errorf("count operations: %w", err)
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]int{"pending": count})
	}
	fmt.Println(count)
	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.RetryFailed()
	if err != nil {
		return fmt.Errorf("retry failed operations: %w", err)
	}
	fmt.Printf("returned %d operation(s) to the pending queue\n", n)
	return nil
}

func runQueueDiscard(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	id := args[0]
	if err := st.Discard(id); err != nil {
		return fmt.Errorf("discard %s: %w", id, err)
	}
	fmt.Printf("discarded %s\n", id)
	return nil
}
