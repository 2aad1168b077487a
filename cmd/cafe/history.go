package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/cafestream/internal/client"
	"github.com/alfredjeanlab/cafestream/internal/eventlog"
)

var historyCmd = &cobra.Command{
	Use:     "history <topic>",
	Short:   "Read past entries of an event topic (staff only)",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		latest, _ := cmd.Flags().GetBool("latest")
		from, _ := cmd.Flags().GetUint64("from")
		to, _ := cmd.Flags().GetUint64("to")
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := context.Background()

		if latest {
			entry, err := apiClient.TopicLatest(ctx, args[0])
			if err != nil {
				return fmt.Errorf("reading latest entry: %w", err)
			}
			if entry == nil {
				fmt.Printf("No entries in %s\n", args[0])
				return nil
			}
			if jsonOutput {
				printJSON(entry)
			} else {
				printEntryTable([]eventlog.Entry{*entry})
			}
			return nil
		}

		entries, err := apiClient.TopicEntries(ctx, args[0], &client.TopicEntriesRequest{
			From:  eventlog.EntryID(from),
			To:    eventlog.EntryID(to),
			Limit: limit,
		})
		if err != nil {
			return fmt.Errorf("reading entries: %w", err)
		}
		if jsonOutput {
			printJSON(entries)
		} else {
			printEntryTable(entries)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("latest", false, "show only the newest entry")
	historyCmd.Flags().Uint64("from", 0, "first entry ID (inclusive)")
	historyCmd.Flags().Uint64("to", 0, "last entry ID (inclusive, 0 = newest)")
	historyCmd.Flags().Int("limit", 0, "maximum entries (0 = server default)")
}
