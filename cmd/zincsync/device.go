package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage paired devices",
}

var deviceListCmd = &cobra.Command{
	Use:   "list <workspace-id>",
	Short: "List devices paired to a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		devices, err := n.Devices.ListByWorkspace(args[0])
		if err != nil {
			return err
		}
		for _, d := range devices {
			status := "active"
			if d.Revoked {
				status = "revoked"
			}
			fmt.Printf("%s\t%s\t%s\n", d.ID, d.Name, status)
		}
		return nil
	},
}

var deviceRevokeCmd = &cobra.Command{
	Use:   "revoke <device-id>",
	Short: "Mark a paired device as revoked (recorded only; Hello handling does not check it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()
		return n.Devices.Revoke(args[0])
	},
}

func init() {
	deviceCmd.AddCommand(deviceListCmd, deviceRevokeCmd)
	rootCmd.AddCommand(deviceCmd)
}
