// Command fleetctl is a thin HTTP client for fleetd's control surface:
// start/stop individual devices, read fleet status, and trigger or watch
// discovery runs without reaching for curl.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "Control a running fleetd instance over its HTTP API",
	}
	root.PersistentFlags().StringVar(&addr, "addr", envOr("FLEETCTL_ADDR", "http://localhost:8080"), "fleetd HTTP address")

	root.AddCommand(
		newStartCmd(&addr),
		newStopCmd(&addr),
		newStatusCmd(&addr),
		newDiscoveryCmd(&addr),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
