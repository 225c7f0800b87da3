package storage

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// BlockRepository persists Block records, encoding/decoding the tagged
// BlockContent union to the blocks table's (block_type, content_markdown,
// properties_json) columns.
type BlockRepository struct {
	db *DB
}

func NewBlockRepository(db *DB) *BlockRepository { return &BlockRepository{db: db} }

// blockProperties captures the variant-specific fields that aren't the
// block's primary text, persisted as JSON in properties_json.
type blockProperties struct {
	Level     int  `json:"level,omitempty"`
	Checked   bool `json:"checked,omitempty"`
	Language  string `json:"language,omitempty"`
	Collapsed bool `json:"collapsed,omitempty"`
}

func encodeContent(c types.BlockContent) (blockType, text, propsJSON string, err error) {
	var props blockProperties
	switch v := c.(type) {
	case types.Paragraph:
	case types.Heading:
		props.Level = v.Level
	case types.Todo:
		props.Checked = v.Checked
	case types.Code:
		props.Language = v.Language
	case types.Quote:
	case types.Divider:
	case types.Toggle:
		props.Collapsed = v.Collapsed
	default:
		return "", "", "", zerrors.New(zerrors.BadInput, "unknown block content variant")
	}
	raw, marshalErr := json.Marshal(props)
	if marshalErr != nil {
		return "", "", "", zerrors.Wrap(zerrors.IoError, "marshal block properties", marshalErr)
	}
	return string(c.Type()), c.Text(), string(raw), nil
}

func decodeContent(blockType, text, propsJSON string) (types.BlockContent, error) {
	bt, err := types.ParseBlockType(blockType)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.BadInput, "parse block type", err)
	}
	var props blockProperties
	if propsJSON != "" {
		if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "unmarshal block properties", err)
		}
	}
	switch bt {
	case types.BlockParagraph:
		return types.Paragraph{Markdown: text}, nil
	case types.BlockHeading:
		return types.Heading{Level: props.Level, Markdown: text}, nil
	case types.BlockTodo:
		return types.Todo{Checked: props.Checked, Markdown: text}, nil
	case types.BlockCode:
		return types.Code{Language: props.Language, Content: text}, nil
	case types.BlockQuote:
		return types.Quote{Markdown: text}, nil
	case types.BlockDivider:
		return types.Divider{}, nil
	case types.BlockToggle:
		return types.Toggle{Collapsed: props.Collapsed, Summary: text}, nil
	default:
		return nil, zerrors.New(zerrors.BadInput, "unhandled block type")
	}
}

// Create inserts a new block.
func (r *BlockRepository) Create(b types.Block) error {
	blockType, text, props, err := encodeContent(b.Content)
	if err != nil {
		return err
	}
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO blocks(id, page_id, parent_block_id, block_type, content_markdown, properties_json, sort_order, created_at, updated_at)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			b.ID, b.PageID, b.ParentBlockID, blockType, text, props, string(b.SortOrder), b.CreatedAt, b.UpdatedAt,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "insert block", err)
		}
		return nil
	})
}

// Get fetches a block by ID.
func (r *BlockRepository) Get(id string) (*types.Block, error) {
	row := r.db.Raw().QueryRow(
		`SELECT id, page_id, parent_block_id, block_type, content_markdown, properties_json, sort_order, created_at, updated_at
		 FROM blocks WHERE id = ?`, id)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, zerrors.New(zerrors.NotFound, "block not found")
	}
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query block", err)
	}
	return b, nil
}

// ListByPage returns every block on a page, ordered by fractional index.
func (r *BlockRepository) ListByPage(pageID string) ([]types.Block, error) {
	rows, err := r.db.Raw().Query(
		`SELECT id, page_id, parent_block_id, block_type, content_markdown, properties_json, sort_order, created_at, updated_at
		 FROM blocks WHERE page_id = ? ORDER BY sort_order`, pageID)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query blocks", err)
	}
	defer rows.Close()

	var out []types.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "scan block", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Update replaces a block's content and sort position.
func (r *BlockRepository) Update(b types.Block) error {
	blockType, text, props, err := encodeContent(b.Content)
	if err != nil {
		return err
	}
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE blocks SET block_type=?, content_markdown=?, properties_json=?, sort_order=?, updated_at=? WHERE id=?`,
			blockType, text, props, string(b.SortOrder), b.UpdatedAt, b.ID,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "update block", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return zerrors.New(zerrors.NotFound, "block not found")
		}
		return nil
	})
}

// Remove deletes a block.
func (r *BlockRepository) Remove(id string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM blocks WHERE id = ?`, id)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "delete block", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return zerrors.New(zerrors.NotFound, "block not found")
		}
		return nil
	})
}

// SearchContent runs an FTS5 match over block content within a page.
func (r *BlockRepository) SearchContent(pageID, query string) ([]types.Block, error) {
	rows, err := r.db.Raw().Query(`
		SELECT b.id, b.page_id, b.parent_block_id, b.block_type, b.content_markdown, b.properties_json, b.sort_order, b.created_at, b.updated_at
		FROM block_fts f
		JOIN blocks b ON b.id = f.block_id
		WHERE f.page_id = ? AND block_fts MATCH ?
	`, pageID, query)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "search block content", err)
	}
	defer rows.Close()

	var out []types.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "scan block search result", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBlock(row rowScanner) (*types.Block, error) {
	var b types.Block
	var parent sql.NullString
	var blockType, text, props, sortOrder string
	if err := row.Scan(&b.ID, &b.PageID, &parent, &blockType, &text, &props, &sortOrder, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if parent.Valid {
		b.ParentBlockID = &parent.String
	}
	content, err := decodeContent(blockType, text, props)
	if err != nil {
		return nil, err
	}
	b.Content = content
	b.PropertiesJSON = props
	b.SortOrder = types.FractionalIndex(sortOrder)
	return &b, nil
}
