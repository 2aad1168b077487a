package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/cafestream/internal/archive"
	"github.com/alfredjeanlab/cafestream/internal/config"
	"github.com/alfredjeanlab/cafestream/internal/events"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export the event log to the configured archive destinations once",
	Long: `Export every entry of every topic as JSONL to the destinations set by
CAFE_ARCHIVE_DIR and CAFE_ARCHIVE_S3_BUCKET. The running server does the same
incrementally when CAFE_ARCHIVE_SCHEDULE is set.`,
	GroupID: "system",
	// Override PersistentPreRunE so we don't build an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		ctx := context.Background()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var dests []archive.Destination
		if cfg.ArchiveS3Bucket != "" {
			d, err := archive.NewS3Destination(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
			if err != nil {
				return err
			}
			dests = append(dests, d)
		}
		if cfg.ArchiveDir != "" {
			dests = append(dests, &archive.FileDestination{Dir: cfg.ArchiveDir})
		}
		if len(dests) == 0 {
			return fmt.Errorf("no archive destination: set CAFE_ARCHIVE_DIR or CAFE_ARCHIVE_S3_BUCKET")
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		log, err := openEventLog(cfg, st)
		if err != nil {
			return err
		}
		defer log.Close()

		a := archive.New(log, events.Topics, dests, cfg.ArchivePrefix, logger)
		if err := a.RunOnce(ctx); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(a.Marks())
		} else {
			for _, topic := range events.Topics {
				fmt.Printf("%-22s archived through %s\n", topic, a.Marks()[topic])
			}
		}
		return nil
	},
}
