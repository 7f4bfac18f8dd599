package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(closuresCmd)
	closuresCmd.AddCommand(closuresListCmd)
	closuresCmd.AddCommand(closuresDropCmd)
}

var closuresCmd = &cobra.Command{
	Use:   "closures",
	Short: "Manage pending closures",
	Long:  "Inspect and drop persisted delayed-close records.",
}

type closureRow struct {
	ThreadID      int64     `json:"thread_id"`
	At            time.Time `json:"at"`
	CloserID      int64     `json:"closer_id"`
	Silent        bool      `json:"silent"`
	DeleteChannel bool      `json:"delete_channel"`
	AutoClose     bool      `json:"auto_close"`
	Message       string    `json:"message,omitempty"`
}

var closuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending closures",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openSettings()
		if err != nil {
			return err
		}
		defer st.Close()

		records := st.Closures()
		out := make([]closureRow, 0, len(records))
		for threadID, record := range records {
			out = append(out, closureRow{
				ThreadID:      threadID,
				At:            record.Time,
				CloserID:      record.CloserID,
				Silent:        record.Silent,
				DeleteChannel: record.DeleteChannel,
				AutoClose:     record.AutoClose,
				Message:       record.Message,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })

		if IsJSONOutput() {
			return WriteOutput(os.Stdout, out)
		}
		if len(out) == 0 {
			fmt.Fprintln(os.Stdout, "No pending closures.")
			return nil
		}

		rows := make([][]string, 0, len(out))
		for _, row := range out {
			rows = append(rows, []string{
				strconv.FormatInt(row.ThreadID, 10),
				row.At.Format(time.RFC3339),
				strconv.FormatInt(row.CloserID, 10),
				formatYesNo(row.Silent),
				formatYesNo(row.DeleteChannel),
				formatYesNo(row.AutoClose),
			})
		}
		return writeTable(os.Stdout, []string{"THREAD", "AT", "CLOSER", "SILENT", "DELETE", "AUTO"}, rows)
	},
}

var closuresDropCmd = &cobra.Command{
	Use:   "drop <thread-id>",
	Short: "Drop a pending closure record",
	Long: "Remove a persisted closure record so it is not re-armed on the\n" +
		"next daemon start. A timer already armed in a running daemon is\n" +
		"not affected.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid thread id %q", args[0])
		}

		st, err := openSettings()
		if err != nil {
			return err
		}
		defer st.Close()

		if !st.DeleteClosure(threadID) {
			return fmt.Errorf("no pending closure for thread %d", threadID)
		}
		if err := st.Update(context.Background()); err != nil {
			return fmt.Errorf("failed to persist closure removal: %w", err)
		}
		if !IsJSONOutput() {
			fmt.Fprintf(os.Stdout, "Dropped closure record for thread %d\n", threadID)
		}
		return nil
	},
}
