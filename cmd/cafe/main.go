package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/cafestream/internal/client"
	"github.com/alfredjeanlab/cafestream/internal/ui"
)

var (
	serverURL  string
	token      string
	jsonOutput bool

	apiClient *client.HTTPClient
)

func defaultServerURL() string {
	if s := os.Getenv("CAFE_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:   "cafe <command>",
	Short: "Coffee shop order events: server, stream watcher and admin CLI",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		apiClient = client.NewHTTPClient(serverURL, token)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CAFE_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "orders", Title: "Orders:"},
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(productCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	ui.SetColor(ui.ShouldUseColor())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
