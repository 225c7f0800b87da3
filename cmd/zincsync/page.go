package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zincnote/zincsync/internal/render"
	"github.com/zincnote/zincsync/internal/types"
)

var (
	pageParentID string
	pageFormat   string
)

var pageCmd = &cobra.Command{
	Use:   "page",
	Short: "Manage pages within a workspace",
}

var pageCreateCmd = &cobra.Command{
	Use:   "create <workspace-id> <title>",
	Short: "Create a new page",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		workspaceID, title := args[0], args[1]
		now := time.Now().UnixMilli()
		pageID, docID := uuid.NewString(), uuid.NewString()

		var parent *string
		if pageParentID != "" {
			parent = &pageParentID
		}
		page := types.Page{
			ID: pageID, WorkspaceID: workspaceID, ParentPageID: parent, Title: title,
			CreatedAt: now, UpdatedAt: now, CrdtDocID: docID,
		}
		if err := n.Pages.Create(page); err != nil {
			return err
		}
		if err := n.Crdt.CreateDocument(types.CrdtDocument{
			DocID: docID, PageID: pageID, Snapshot: []byte{}, VectorClock: map[string]int64{}, UpdatedAt: now,
		}); err != nil {
			return err
		}
		fmt.Println(pageID)
		return nil
	},
}

var pageListCmd = &cobra.Command{
	Use:   "list <workspace-id>",
	Short: "List non-archived pages in a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		pages, err := n.Pages.ListByWorkspace(args[0])
		if err != nil {
			return err
		}
		for _, p := range pages {
			fmt.Printf("%s\t%s\n", p.ID, p.Title)
		}
		return nil
	},
}

var pageArchiveCmd = &cobra.Command{
	Use:   "archive <page-id>",
	Short: "Archive a page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()
		return n.Pages.Archive(args[0], time.Now().UnixMilli())
	},
}

var pageRemoveCmd = &cobra.Command{
	Use:   "remove <page-id>",
	Short: "Permanently remove a page and its blocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()
		return n.Pages.Remove(args[0])
	},
}

var pageRenderCmd = &cobra.Command{
	Use:   "render <page-id>",
	Short: "Render a page to markdown or HTML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		blocks, err := n.Blocks.ListByPage(args[0])
		if err != nil {
			return err
		}
		switch pageFormat {
		case "", "markdown":
			fmt.Print(render.Markdown(blocks))
		case "html":
			html, err := render.HTML(blocks)
			if err != nil {
				return err
			}
			fmt.Print(html)
		default:
			return fmt.Errorf("unknown render format %q (want markdown or html)", pageFormat)
		}
		return nil
	},
}

var pageDumpCmd = &cobra.Command{
	Use:   "dump <page-id>",
	Short: "Dump a page's block tree as indented text or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		blocks, err := n.Blocks.ListByPage(args[0])
		if err != nil {
			return err
		}
		switch pageFormat {
		case "", "text":
			fmt.Print(render.DumpText(blocks))
		case "json":
			data, err := render.DumpJSON(blocks)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		default:
			return fmt.Errorf("unknown dump format %q (want text or json)", pageFormat)
		}
		return nil
	},
}

func init() {
	pageCreateCmd.Flags().StringVar(&pageParentID, "parent", "", "parent page ID, for a nested page")
	pageRenderCmd.Flags().StringVar(&pageFormat, "format", "markdown", "output format: markdown or html")
	pageDumpCmd.Flags().StringVar(&pageFormat, "format", "text", "output format: text or json")

	pageCmd.AddCommand(pageCreateCmd, pageListCmd, pageArchiveCmd, pageRemoveCmd, pageRenderCmd, pageDumpCmd)
	rootCmd.AddCommand(pageCmd)
}
