package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/odvcencio/steplink/pkg/journal"
)

func runJournalCommand(ctx context.Context, args []string) error {
	fs := newFlagSet("journal")
	reason := fs.String("reason", "", "only steps recorded for this reason (e.g. REPORTING_DISABLED)")
	session := fs.String("session", "", "only steps from this session")
	limit := fs.IntP("limit", "n", 50, "maximum number of entries")
	path := fs.String("path", "", "journal path (defaults to reporting.journal_path)")
	configPath := fs.String("config", "", "config file path")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	journalPath := *path
	if journalPath == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		journalPath = cfg.Reporting.JournalPath
	}

	store, err := journal.Open(journalPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx, journal.ListOptions{
		Reason:    *reason,
		SessionID: *session,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no journaled steps")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tSTEP\tPASSED\tREASON\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			e.RecordedAt.Local().Format(time.DateTime), e.StepID, e.Passed, e.Reason, e.Description)
	}
	return tw.Flush()
}
