package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/spf13/cobra"
)

func activityCmd(e *env) *cobra.Command {
	var (
		limit int
		op    string
		key   string
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent uploads and deletes",
		Long: `Show the most recent entries of the activity journal. Nothing is
recorded unless a journal backend is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			filter := journal.Filter{Key: key}
			var err error
			if filter.Op, err = journal.ParseOp(op); err != nil {
				return err
			}
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.journal.Find(cmd.Context(), filter, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tOP\tRESULT\tKEY")
			for _, en := range entries {
				result := "ok"
				if !en.Succeeded {
					result = "failed: " + en.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", en.At.Local().Format(time.DateTime), en.Op, result, en.Key)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().StringVar(&op, "op", "", "only this operation. upload|delete")
	cmd.Flags().StringVar(&key, "key", "", "only this object key")
	return cmd
}

func configCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := e.loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.Export()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
