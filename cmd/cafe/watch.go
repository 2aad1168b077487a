package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/cafestream/internal/client"
	"github.com/alfredjeanlab/cafestream/internal/config"
	"github.com/alfredjeanlab/cafestream/internal/events"
	"github.com/alfredjeanlab/cafestream/internal/notify"
	"github.com/alfredjeanlab/cafestream/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <user <id> | order <id> | orders | low-stock>",
	Short: "Follow a live order or stock stream",
	Long: `Subscribe to a server-sent event stream and print frames as they arrive.

Status changes are de-duplicated per connection and sent to the configured
notifiers (always the log, plus MQTT when CAFE_MQTT_BROKER, the [mqtt]
config table or --mqtt-broker names a broker). The watcher
reconnects with exponential backoff until interrupted or the server rejects
the token.`,
	GroupID: "events",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, _ := cmd.Flags().GetBool("resume")
		retry, _ := cmd.Flags().GetDuration("retry")
		maxRetry, _ := cmd.Flags().GetDuration("max-retry")

		path, err := streamPath(args)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		mqttSettings := watchMQTTSettings(cmd, cfg)

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		notifier := notify.NewMulti(logger, notify.NewLogNotifier(logger))
		if mqttSettings.Broker != "" {
			mq := notify.NewMQTT(mqttSettings)
			defer mq.Close()
			notifier.Add(mq)
		}

		consumer := client.NewStreamConsumer(strings.TrimRight(serverURL, "/")+path,
			client.WithToken(token),
			client.WithLogger(logger),
			client.WithNotifier(notifier),
			client.WithRetry(retry, maxRetry),
			client.WithResume(resume),
			client.WithHandler(events.FrameConnected, printFrame),
			client.WithHandler(events.FrameOrderCreated, printFrame),
			client.WithHandler(events.FrameOrderUpdated, printFrame),
			client.WithHandler(events.FrameLowStockAlert, printFrame),
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := consumer.Connect(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			consumer.Disconnect()
		case <-consumer.Done():
		}
		return consumer.Err()
	},
}

// watchMQTTSettings returns the configured MQTT settings with any explicitly
// set flags applied on top.
func watchMQTTSettings(cmd *cobra.Command, cfg *config.Config) notify.MQTTSettings {
	s := cfg.MQTT
	if cmd.Flags().Changed("mqtt-broker") {
		s.Broker, _ = cmd.Flags().GetString("mqtt-broker")
	}
	if cmd.Flags().Changed("mqtt-topic") {
		s.Topic, _ = cmd.Flags().GetString("mqtt-topic")
	}
	if cmd.Flags().Changed("mqtt-client-id") {
		s.ClientID, _ = cmd.Flags().GetString("mqtt-client-id")
	}
	return s
}

func addMQTTFlags(cmd *cobra.Command) {
	cmd.Flags().String("mqtt-broker", "", "also publish notifications to this MQTT broker (overrides CAFE_MQTT_BROKER)")
	cmd.Flags().String("mqtt-topic", "", "MQTT topic prefix for notifications (overrides CAFE_MQTT_TOPIC)")
	cmd.Flags().String("mqtt-client-id", "", "MQTT client ID (overrides CAFE_MQTT_CLIENT_ID)")
}

// streamPath maps watch targets to stream endpoints.
func streamPath(args []string) (string, error) {
	needID := func() (string, error) {
		if len(args) != 2 || args[1] == "" {
			return "", fmt.Errorf("watch %s requires an id", args[0])
		}
		return url.PathEscape(args[1]), nil
	}
	switch args[0] {
	case "user":
		id, err := needID()
		if err != nil {
			return "", err
		}
		return "/v1/stream/users/" + id + "/orders", nil
	case "order":
		id, err := needID()
		if err != nil {
			return "", err
		}
		return "/v1/stream/orders/" + id, nil
	case "orders":
		return "/v1/stream/orders", nil
	case "low-stock":
		return "/v1/stream/alerts/low-stock", nil
	}
	return "", fmt.Errorf("unknown watch target %q (want user, order, orders or low-stock)", args[0])
}

func printFrame(_ context.Context, ev client.Event) {
	if jsonOutput {
		fmt.Println(string(ev.Data))
		return
	}
	ts := time.Now().Format("15:04:05")
	switch ev.Type {
	case events.FrameConnected:
		fmt.Printf("%s %s\n", ui.RenderMuted(ts), ui.RenderMuted("connected"))
	case events.FrameOrderCreated, events.FrameOrderUpdated:
		fmt.Printf("%s %-14s %s %s\n",
			ui.RenderMuted(ts),
			ui.RenderAccent(ev.Type),
			ev.Fields[events.FieldOrderID],
			ui.RenderStatus(ev.Fields[events.FieldStatus]),
		)
	case events.FrameLowStockAlert:
		name := ev.Fields[events.FieldProductName]
		if name == "" {
			name = ev.Fields[events.FieldProductID]
		}
		fmt.Printf("%s %-14s %s %s\n",
			ui.RenderMuted(ts),
			ui.RenderAlert(ev.Type),
			name,
			ui.RenderAlert(ev.Fields[events.FieldStockQuantity]+" left"),
		)
	}
}

func init() {
	watchCmd.Flags().Bool("resume", false, "resume from the last delivered event after reconnecting")
	watchCmd.Flags().Duration("retry", client.DefaultInitialRetry, "initial reconnect delay")
	watchCmd.Flags().Duration("max-retry", client.DefaultMaxRetry, "maximum reconnect delay")
	addMQTTFlags(watchCmd)
}
