package sync

import (
	"encoding/json"

	"github.com/zincnote/zincsync/internal/zerrors"
)

// helloMessage is carried as this side's Noise handshake payload, so it
// arrives with the handshake itself; its fields are exactly what
// DecideHello needs.
type helloMessage struct {
	DeviceID    string `json:"device_id"`
	WorkspaceID string `json:"workspace_id"`
	DeviceName  string `json:"device_name"`
}

// syncRequestMessage asks a peer for every change on docID it has not yet
// marked synced to us. VectorClock carries our current clock; the
// responder does not use it to select changes.
type syncRequestMessage struct {
	DocID       string           `json:"doc_id"`
	VectorClock map[string]int64 `json:"vector_clock"`
}

// syncResponseMessage carries the changes a peer had that we didn't.
type syncResponseMessage struct {
	DocID   string          `json:"doc_id"`
	Changes []changeMessage `json:"changes"`
}

// changeMessage is one CrdtChange serialized for the wire. Row is the
// sender's own crdt_changes row id, echoed back unchanged in a ChangeAck so
// the sender can mark exactly that row synced to the acknowledging peer.
type changeMessage struct {
	Row         int64  `json:"row"`
	ActorID     string `json:"actor_id"`
	SeqNum      int64  `json:"seq_num"`
	ChangeBytes []byte `json:"change_bytes"`
	CreatedAt   int64  `json:"created_at"`
}

// changeNotifyMessage announces a single newly-appended change, used for
// the steady-state streaming path rather than full resync.
type changeNotifyMessage struct {
	DocID   string        `json:"doc_id"`
	Change  changeMessage `json:"change"`
}

// changeAckMessage confirms that every row in Rows was persisted and
// applied, letting the original sender mark those change rows synced to
// this device.
type changeAckMessage struct {
	DocID string  `json:"doc_id"`
	Rows  []int64 `json:"rows"`
}

// pageWireEntry is one page plus its CRDT document's current materialized
// state, for bulk bootstrap via pagesSnapshotMessage.
type pageWireEntry struct {
	ID            string `json:"id"`
	ParentPageID  *string `json:"parent_page_id,omitempty"`
	Title         string `json:"title"`
	SortOrder     int64  `json:"sort_order"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
	CrdtDocID     string `json:"crdt_doc_id"`
	Snapshot      []byte `json:"snapshot"`
	VectorClock   map[string]int64 `json:"vector_clock"`
}

// pagesSnapshotMessage is the opaque bulk-init payload pushed right after a
// Hello is accepted, so a newly paired (or long-disconnected) device starts
// from the workspace's current page tree instead of an empty one.
type pagesSnapshotMessage struct {
	Pages []pageWireEntry `json:"pages"`
}

func marshalMessage(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Every message type here is a plain struct of strings/ints/byte
		// slices; json.Marshal cannot fail on it.
		panic(err)
	}
	return data
}

func unmarshalMessage(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return zerrors.Wrap(zerrors.ProtocolError, "unmarshal sync message", err)
	}
	return nil
}
