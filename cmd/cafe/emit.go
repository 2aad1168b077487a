package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/cafestream/internal/config"
)

// emitCmd appends an entry straight to the configured event log, bypassing
// the order service. Useful for replaying or testing consumers.
var emitCmd = &cobra.Command{
	Use:   "emit <topic> <key=value>...",
	Short: "Append a raw entry to the event log",
	Long: `Append an entry directly to the event log backend configured by
CAFE_LOG_BACKEND (bolt, postgres or jetstream). Connected streams pick it up
on their next poll like any other entry.

Example:
  cafe emit order-status-changed orderId=ord-1 userId=u1 status=READY`,
	GroupID: "events",
	Args:    cobra.MinimumNArgs(2),
	// Override PersistentPreRunE so we don't build an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.LogBackend == config.BackendMemory {
			return fmt.Errorf("emit needs a shared event log; set CAFE_LOG_BACKEND to bolt, postgres or jetstream")
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

		id, err := log.Append(context.Background(), args[0], fields)
		if err != nil {
			return fmt.Errorf("appending to %s: %w", args[0], err)
		}
		if jsonOutput {
			printJSON(map[string]any{"topic": args[0], "id": id})
		} else {
			fmt.Printf("Appended %s entry %s\n", args[0], id)
		}
		return nil
	},
}

// parseFields turns key=value arguments into entry fields.
func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q (want key=value)", arg)
		}
		fields[k] = v
	}
	return fields, nil
}
