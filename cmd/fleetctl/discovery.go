package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

type discoveryRunRequest struct {
	Interfaces        []string `json:"interfaces,omitempty"`
	AutoActivate      bool     `json:"auto_activate"`
	OverwriteExisting bool     `json:"overwrite_existing"`
}

func newDiscoveryCmd(addr *string) *cobra.Command {
	var interfaces []string
	var autoActivate, overwrite bool

	run := &cobra.Command{
		Use:   "run",
		Short: "Trigger a discovery run",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := postJSON(*addr+"/discovery/run", discoveryRunRequest{
				Interfaces:        interfaces,
				AutoActivate:      autoActivate,
				OverwriteExisting: overwrite,
			})
			if err != nil {
				return err
			}
			if status == http.StatusAccepted {
				fmt.Println("discovery run accepted")
				return nil
			}
			return fmt.Errorf("unexpected status %d: %s", status, string(body))
		},
	}
	run.Flags().StringSliceVar(&interfaces, "interface", nil, "restrict the run to these interfaces (repeatable)")
	run.Flags().BoolVar(&autoActivate, "auto-activate", false, "sent with the run request; the importer ignores it and saves new devices active either way")
	run.Flags().BoolVar(&overwrite, "overwrite-existing", false, "let discovery overwrite operator-managed devices")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the most recent discovery run's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			sc, err := getJSON(*addr+"/discovery/status", &out)
			if err != nil {
				return err
			}
			fmt.Printf("status %d: %+v\n", sc, out)
			return nil
		},
	}

	logs := &cobra.Command{
		Use:   "logs",
		Short: "Stream the most recent discovery run's log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(*addr + "/discovery/logs")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}

	discovery := &cobra.Command{
		Use:   "discovery",
		Short: "Drive the discovery pipeline",
	}
	discovery.AddCommand(run, status, logs)
	return discovery
}
