package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zincnote/zincsync/internal/types"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces",
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		now := time.Now().UnixMilli()
		ws := types.Workspace{ID: uuid.NewString(), Name: args[0], CreatedAt: now, UpdatedAt: now}
		if err := n.Workspaces.Create(ws); err != nil {
			return err
		}
		fmt.Println(ws.ID)
		return nil
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		workspaces, err := n.Workspaces.List()
		if err != nil {
			return err
		}
		for _, ws := range workspaces {
			fmt.Printf("%s\t%s\n", ws.ID, ws.Name)
		}
		return nil
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceCreateCmd, workspaceListCmd)
	rootCmd.AddCommand(workspaceCmd)
}
