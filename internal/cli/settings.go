package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/threadmail/threadmail/internal/settings"
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsUnsetCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage runtime settings",
	Long:  "Inspect and change the bridge's runtime settings store.",
}

type settingRow struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Default string `json:"default,omitempty"`
	Set     bool   `json:"set"`
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings",
	Long:  "List every settable key with its current and default value.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openSettings()
		if err != nil {
			return err
		}
		defer st.Close()

		keys := settings.Keys()
		sort.Strings(keys)

		var out []settingRow
		for _, key := range keys {
			entry := settings.Schema[key]
			if !entry.Settable {
				continue
			}
			row := settingRow{Key: key, Default: entry.Default, Set: st.IsSet(key)}
			if row.Set {
				row.Value = st.String(key)
			}
			out = append(out, row)
		}

		if IsJSONOutput() {
			return WriteOutput(os.Stdout, out)
		}

		rows := make([][]string, 0, len(out))
		for _, row := range out {
			rows = append(rows, []string{row.Key, row.Value, row.Default, formatYesNo(row.Set)})
		}
		return writeTable(os.Stdout, []string{"KEY", "VALUE", "DEFAULT", "SET"}, rows)
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if _, ok := settings.Schema[key]; !ok {
			return fmt.Errorf("unknown settings key %q", key)
		}

		st, err := openSettings()
		if err != nil {
			return err
		}
		defer st.Close()

		row := settingRow{
			Key:     key,
			Value:   st.String(key),
			Default: settings.Schema[key].Default,
			Set:     st.IsSet(key),
		}
		if IsJSONOutput() {
			return WriteOutput(os.Stdout, row)
		}
		fmt.Fprintln(os.Stdout, row.Value)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Long:  "Validate and store a new value for a settable key.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openSettings()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := st.Update(context.Background()); err != nil {
			return fmt.Errorf("failed to persist setting: %w", err)
		}

		if !IsJSONOutput() {
			fmt.Fprintf(os.Stdout, "Set %s = %s\n", args[0], st.String(args[0]))
		}
		return nil
	},
}

var settingsUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a setting to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		entry, ok := settings.Schema[key]
		if !ok || !entry.Settable {
			return fmt.Errorf("unknown settings key %q", key)
		}

		st, err := openSettings()
		if err != nil {
			return err
		}
		defer st.Close()

		if st.Remove(key) {
			if err := st.Update(context.Background()); err != nil {
				return fmt.Errorf("failed to persist setting removal: %w", err)
			}
		}
		if !IsJSONOutput() {
			fmt.Fprintf(os.Stdout, "Unset %s\n", key)
		}
		return nil
	},
}
