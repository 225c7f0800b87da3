// Package types defines the core data model shared across zincsync:
// workspaces, devices, pages, blocks, and the CRDT document/change records
// that carry them across the wire.
package types

import (
	"fmt"
	"strings"
)

// BlockType enumerates the supported block content variants.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockTodo      BlockType = "todo"
	BlockCode      BlockType = "code"
	BlockQuote     BlockType = "quote"
	BlockDivider   BlockType = "divider"
	BlockToggle    BlockType = "toggle"
)

// BlockContent is implemented by each block variant. It mirrors a tagged
// union: Type reports the discriminant and Text/WithText give uniform
// access to the variant's primary text field.
type BlockContent interface {
	Type() BlockType
	Text() string
	WithText(text string) BlockContent
}

// Paragraph is a plain-text block.
type Paragraph struct{ Markdown string }

func (p Paragraph) Type() BlockType            { return BlockParagraph }
func (p Paragraph) Text() string                { return p.Markdown }
func (p Paragraph) WithText(t string) BlockContent { return Paragraph{Markdown: t} }

// Heading is a titled section marker at a given level (1-6).
type Heading struct {
	Level    int
	Markdown string
}

func (h Heading) Type() BlockType            { return BlockHeading }
func (h Heading) Text() string                { return h.Markdown }
func (h Heading) WithText(t string) BlockContent { return Heading{Level: h.Level, Markdown: t} }

// Todo is a checkbox item.
type Todo struct {
	Checked  bool
	Markdown string
}

func (t Todo) Type() BlockType              { return BlockTodo }
func (t Todo) Text() string                  { return t.Markdown }
func (t Todo) WithText(s string) BlockContent { return Todo{Checked: t.Checked, Markdown: s} }

// Code is a fenced code block.
type Code struct {
	Language string
	Content  string
}

func (c Code) Type() BlockType              { return BlockCode }
func (c Code) Text() string                  { return c.Content }
func (c Code) WithText(s string) BlockContent { return Code{Language: c.Language, Content: s} }

// Quote is a block quote.
type Quote struct{ Markdown string }

func (q Quote) Type() BlockType              { return BlockQuote }
func (q Quote) Text() string                  { return q.Markdown }
func (q Quote) WithText(s string) BlockContent { return Quote{Markdown: s} }

// Divider is a horizontal rule with no text content.
type Divider struct{}

func (d Divider) Type() BlockType              { return BlockDivider }
func (d Divider) Text() string                  { return "" }
func (d Divider) WithText(string) BlockContent { return Divider{} }

// Toggle is a collapsible section with a summary line.
type Toggle struct {
	Collapsed bool
	Summary   string
}

func (t Toggle) Type() BlockType              { return BlockToggle }
func (t Toggle) Text() string                  { return t.Summary }
func (t Toggle) WithText(s string) BlockContent { return Toggle{Collapsed: t.Collapsed, Summary: s} }

// ParseBlockType maps a persisted block_type string to its BlockType.
func ParseBlockType(s string) (BlockType, error) {
	switch BlockType(s) {
	case BlockParagraph, BlockHeading, BlockTodo, BlockCode, BlockQuote, BlockDivider, BlockToggle:
		return BlockType(s), nil
	default:
		return "", fmt.Errorf("unknown block type %q", s)
	}
}

// FractionalIndex is a lexicographically-ordered sibling position key.
// Keys are base62 digit strings; a new key between two siblings is produced
// by MidpointKey without rebalancing the rest of the list.
type FractionalIndex string

const fracAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// MidpointKey returns a key that sorts strictly between lo and hi.
// An empty lo means "start of list"; an empty hi means "end of list".
func MidpointKey(lo, hi FractionalIndex) FractionalIndex {
	a, b := string(lo), string(hi)
	var out []byte
	i := 0
	for {
		var ca, cb int
		if i < len(a) {
			ca = strings.IndexByte(fracAlphabet, a[i])
		}
		cb = len(fracAlphabet)
		if i < len(b) {
			cb = strings.IndexByte(fracAlphabet, b[i])
		} else if b == "" {
			cb = len(fracAlphabet)
		}
		if cb-ca > 1 {
			mid := ca + (cb-ca)/2
			out = append(out, fracAlphabet[mid])
			return FractionalIndex(out)
		}
		out = append(out, fracAlphabet[ca])
		i++
		if i >= len(a) {
			a = ""
		}
	}
}

// Workspace is the root sync scope: devices pair into exactly one workspace.
type Workspace struct {
	ID                string
	Name              string
	EncryptionKeySalt []byte
	CreatedAt         int64
	UpdatedAt         int64
}

// Device is a paired endpoint within a workspace.
type Device struct {
	ID         string
	WorkspaceID string
	Name        string
	PublicKey   []byte
	PairedAt    int64
	LastSeen    int64
	Revoked     bool
}

// Page is a hierarchical document within a workspace, backed by a CRDT
// document identified by CrdtDocID.
type Page struct {
	ID            string
	WorkspaceID   string
	ParentPageID  *string
	Title         string
	SortOrder     int64
	Archived      bool
	CreatedAt     int64
	UpdatedAt     int64
	CrdtDocID     string
}

// Block is a single content unit within a page.
type Block struct {
	ID             string
	PageID         string
	ParentBlockID  *string
	Content        BlockContent
	PropertiesJSON string
	SortOrder      FractionalIndex
	CreatedAt      int64
	UpdatedAt      int64
}

// CrdtDocument is the current materialized state of a page's CRDT.
type CrdtDocument struct {
	DocID       string
	PageID      string
	Snapshot    []byte
	VectorClock map[string]int64
	UpdatedAt   int64
}

// CrdtChange is a single append-only operation against a CrdtDocument,
// uniquely identified by (DocID, ActorID, SeqNum).
type CrdtChange struct {
	Row          int64
	DocID        string
	ChangeBytes  []byte
	ActorID      string
	SeqNum       int64
	CreatedAt    int64
	SyncedTo     map[string]bool // device IDs this change has been confirmed delivered to
}

// Attachment is a binary blob associated with a block, stored either inline
// (EncryptedBlob) or by reference to a file under the attachments directory
// (ExternalPath).
type Attachment struct {
	ID             string
	BlockID        *string
	Filename       string
	MimeType       string
	SizeBytes      int64
	HashSHA256     string
	EncryptedBlob  []byte
	ExternalPath   *string
	CreatedAt      int64
}

// BlockLink records a backlink discovered in a block's rendered content.
type BlockLink struct {
	SourceBlockID string
	TargetPageID  string
	TargetBlockID *string
}

// MessageType enumerates framed transport payload kinds.
type MessageType byte

const (
	MsgHello MessageType = iota + 1
	MsgSyncRequest
	MsgSyncResponse
	MsgChangeNotify
	MsgPing
	MsgPong
	MsgDisconnect
	MsgChangeAck
	MsgPagesSnapshot
)

func (m MessageType) String() string {
	switch m {
	case MsgHello:
		return "hello"
	case MsgSyncRequest:
		return "sync_request"
	case MsgSyncResponse:
		return "sync_response"
	case MsgChangeNotify:
		return "change_notify"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgDisconnect:
		return "disconnect"
	case MsgChangeAck:
		return "change_ack"
	case MsgPagesSnapshot:
		return "pages_snapshot"
	default:
		return fmt.Sprintf("unknown(%d)", byte(m))
	}
}
