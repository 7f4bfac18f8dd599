package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/threadmail/threadmail/internal/config"
	"github.com/threadmail/threadmail/internal/logging"
	"github.com/threadmail/threadmail/internal/logstore"
	"github.com/threadmail/threadmail/internal/settings"
)

func init() {
	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(whichCmd)
	rootCmd.AddCommand(logsCmd)
}

var useCmd = &cobra.Command{
	Use:   "use <thread-id>",
	Short: "Select a thread",
	Long:  "Remember a thread id so later commands can default to it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid thread id %q", args[0])
		}

		store := config.DefaultContextStore()
		ctx, err := store.Load()
		if err != nil {
			return err
		}
		ctx.SetThread(threadID, "")
		if err := store.Save(ctx); err != nil {
			return err
		}
		if !IsJSONOutput() {
			fmt.Fprintf(os.Stdout, "Selected %s\n", ctx)
		}
		return nil
	},
}

var whichCmd = &cobra.Command{
	Use:   "which",
	Short: "Show the selected thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := config.DefaultContextStore().Load()
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return WriteOutput(os.Stdout, ctx)
		}
		fmt.Fprintln(os.Stdout, ctx)
		return nil
	},
}

type logRow struct {
	Key       string    `json:"key"`
	URL       string    `json:"url,omitempty"`
	Open      bool      `json:"open"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at,omitzero"`
}

var logsCmd = &cobra.Command{
	Use:   "logs [user-id]",
	Short: "List a user's conversation logs",
	Long: "List the conversation logs recorded for a user. Without an\n" +
		"argument the selected thread's recipient is used.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var userID int64
		if len(args) == 1 {
			parsed, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			userID = parsed
		} else {
			ctx, err := config.DefaultContextStore().Load()
			if err != nil {
				return err
			}
			if ctx.IsEmpty() {
				return fmt.Errorf("no thread selected; pass a user id or run `threadmail use`")
			}
			userID = ctx.ThreadID
		}

		st, err := openSettings()
		if err != nil {
			return err
		}
		defer st.Close()

		logs, err := logstore.Open(loadedConfig.LogsDBPath(), logging.Component("cli"),
			logstore.WithBaseURL(func() string {
				return st.StringOr(settings.KeyLogURL, loadedConfig.LogViewer.BaseURL)
			}))
		if err != nil {
			return fmt.Errorf("failed to open log store: %w", err)
		}
		defer logs.Close()

		summaries, err := logs.UserLogs(cmd.Context(), userID)
		if err != nil {
			return err
		}

		out := make([]logRow, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, logRow{
				Key:       s.Key,
				URL:       logs.URL(s.Key),
				Open:      s.Open,
				CreatedAt: s.CreatedAt,
				ClosedAt:  s.ClosedAt,
			})
		}

		if IsJSONOutput() {
			return WriteOutput(os.Stdout, out)
		}
		if len(out) == 0 {
			fmt.Fprintln(os.Stdout, "No logs found.")
			return nil
		}

		rows := make([][]string, 0, len(out))
		for _, row := range out {
			closed := ""
			if !row.ClosedAt.IsZero() {
				closed = row.ClosedAt.Format(time.RFC3339)
			}
			rows = append(rows, []string{
				row.Key,
				formatYesNo(row.Open),
				row.CreatedAt.Format(time.RFC3339),
				closed,
			})
		}
		return writeTable(os.Stdout, []string{"KEY", "OPEN", "CREATED", "CLOSED"}, rows)
	},
}
