// Package render turns a page's block tree into markdown, HTML, or an
// indented text/JSON dump, for the CLI's render and dump commands.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/zincnote/zincsync/internal/types"
)

// Node is one block plus its children, ordered by SortOrder, forming the
// tree ParentBlockID flattens in storage.
type Node struct {
	Block    types.Block
	Children []*Node
}

// BuildTree arranges a page's flat block list into parent/child Nodes,
// each level sorted by its fractional sort order.
func BuildTree(blocks []types.Block) []*Node {
	nodes := make(map[string]*Node, len(blocks))
	for _, b := range blocks {
		nodes[b.ID] = &Node{Block: b}
	}
	var roots []*Node
	for _, b := range blocks {
		n := nodes[b.ID]
		if b.ParentBlockID == nil {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[*b.ParentBlockID]
		if !ok {
			// Parent missing from this page's block set; treat as a root
			// rather than dropping the block.
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Block.SortOrder < nodes[j].Block.SortOrder
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

// Markdown renders a page's block tree to markdown, nesting child blocks
// (toggle contents, indented lists) two spaces per depth level.
func Markdown(blocks []types.Block) string {
	var buf strings.Builder
	for _, n := range BuildTree(blocks) {
		writeMarkdown(&buf, n, 0)
	}
	return buf.String()
}

func writeMarkdown(buf *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch c := n.Block.Content.(type) {
	case types.Heading:
		buf.WriteString(indent + strings.Repeat("#", clampHeading(c.Level)) + " " + c.Markdown + "\n\n")
	case types.Todo:
		box := "[ ]"
		if c.Checked {
			box = "[x]"
		}
		buf.WriteString(indent + "- " + box + " " + c.Markdown + "\n")
	case types.Code:
		buf.WriteString(indent + "```" + c.Language + "\n" + c.Content + "\n" + indent + "```\n\n")
	case types.Quote:
		buf.WriteString(indent + "> " + c.Markdown + "\n\n")
	case types.Divider:
		buf.WriteString(indent + "---\n\n")
	case types.Toggle:
		buf.WriteString(indent + "<details><summary>" + c.Summary + "</summary>\n\n")
		for _, child := range n.Children {
			writeMarkdown(buf, child, depth+1)
		}
		buf.WriteString(indent + "</details>\n\n")
		return
	case types.Paragraph:
		buf.WriteString(indent + c.Markdown + "\n\n")
	default:
		buf.WriteString(indent + n.Block.Content.Text() + "\n\n")
	}
	for _, child := range n.Children {
		writeMarkdown(buf, child, depth+1)
	}
}

func clampHeading(level int) int {
	if level < 1 {
		return 1
	}
	if level > 6 {
		return 6
	}
	return level
}

// HTML converts a page's block tree to HTML by rendering its markdown
// form through goldmark.
func HTML(blocks []types.Block) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(blocks)), &buf); err != nil {
		return "", fmt.Errorf("convert markdown to html: %w", err)
	}
	return buf.String(), nil
}

// DumpText renders a page's block tree as indented plain text, one line
// per block, prefixed by its type.
func DumpText(blocks []types.Block) string {
	var buf strings.Builder
	for _, n := range BuildTree(blocks) {
		writeDumpText(&buf, n, 0)
	}
	return buf.String()
}

func writeDumpText(buf *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(buf, "%s[%s] %s\n", indent, n.Block.Content.Type(), n.Block.Content.Text())
	for _, child := range n.Children {
		writeDumpText(buf, child, depth+1)
	}
}

// dumpNode is the JSON shape for DumpJSON, since types.BlockContent isn't
// itself marshalable (it's an interface with no exported tag discriminant).
type dumpNode struct {
	ID       string      `json:"id"`
	Type     types.BlockType `json:"type"`
	Text     string      `json:"text"`
	Children []dumpNode  `json:"children,omitempty"`
}

// DumpJSON renders a page's block tree as JSON.
func DumpJSON(blocks []types.Block) ([]byte, error) {
	tree := BuildTree(blocks)
	out := make([]dumpNode, len(tree))
	for i, n := range tree {
		out[i] = toDumpNode(n)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal block tree: %w", err)
	}
	return data, nil
}

func toDumpNode(n *Node) dumpNode {
	out := dumpNode{
		ID:   n.Block.ID,
		Type: n.Block.Content.Type(),
		Text: n.Block.Content.Text(),
	}
	for _, child := range n.Children {
		out.Children = append(out.Children, toDumpNode(child))
	}
	return out
}
