package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStartCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start <device-id>",
		Short: "Start polling a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := postJSON(fmt.Sprintf("%s/supervisor/devices/%s/start", *addr, args[0]), nil)
			if err != nil {
				return err
			}
			return printOutcome(status, body, "start")
		},
	}
}

func newStopCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <device-id>",
		Short: "Stop polling a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := postJSON(fmt.Sprintf("%s/supervisor/devices/%s/stop", *addr, args[0]), nil)
			if err != nil {
				return err
			}
			return printOutcome(status, body, "stop")
		},
	}
}

func newStatusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the fleet-wide poller status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			status, err := getJSON(*addr+"/supervisor/status", &out)
			if err != nil {
				return err
			}
			fmt.Printf("status %d\n", status)
			for id, v := range out {
				fmt.Printf("  device %s: %v\n", id, v)
			}
			return nil
		},
	}
}

func printOutcome(status int, body []byte, verb string) error {
	switch status {
	case 202:
		fmt.Printf("%s accepted\n", verb)
		return nil
	case 404:
		return fmt.Errorf("unknown device")
	case 409:
		return fmt.Errorf("conflict: device already in the requested state")
	default:
		return fmt.Errorf("unexpected status %d: %s", status, string(body))
	}
}
