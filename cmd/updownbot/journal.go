package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/updownbot/internal/app"
	s3blob "github.com/alanyoungcy/updownbot/internal/blob/s3"
)

var (
	journalDay     string
	journalTimeout time.Duration
)

// journalCmd groups the commands that inspect archived decision records.
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect decision journal batches in object storage",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the journal batches written on a UTC day",
	Long: `List the journal batches written on a UTC day.

Examples:
  updownbot journal list
  updownbot journal list --day 2026-01-31`,
	RunE: runJournalList,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Print one journal batch as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalShow,
}

func init() {
	journalCmd.PersistentFlags().DurationVar(&journalTimeout, "timeout", 30*time.Second, "timeout for object storage calls")
	journalListCmd.Flags().StringVar(&journalDay, "day", "", "UTC day as YYYY-MM-DD (default: today)")
	journalCmd.AddCommand(journalListCmd, journalShowCmd)
	rootCmd.AddCommand(journalCmd)
}

func openJournalReader(cmd *cobra.Command) (*s3blob.Reader, string, context.Context, context.CancelFunc, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), journalTimeout)
	reader, err := app.OpenJournalReader(ctx, cfg)
	if err != nil {
		cancel()
		return nil, "", nil, nil, err
	}
	return reader, cfg.Journal.Prefix, ctx, cancel, nil
}

func runJournalList(cmd *cobra.Command, _ []string) error {
	day := time.Now().UTC()
	if journalDay != "" {
		d, err := time.Parse(time.DateOnly, journalDay)
		if err != nil {
			return fmt.Errorf("invalid --day %q: %w", journalDay, err)
		}
		day = d
	}

	reader, prefix, ctx, cancel, err := openJournalReader(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	blobs, err := reader.List(ctx, s3blob.DayPrefix(prefix, day))
	if err != nil {
		return err
	}
	if len(blobs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no journal batches for %s\n", day.Format(time.DateOnly))
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tMODIFIED")
	for _, b := range blobs {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Path, b.Size, b.LastModified.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	reader, _, ctx, cancel, err := openJournalReader(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	rc, err := reader.Get(ctx, args[0])
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(cmd.OutOrStdout(), rc)
	return err
}
