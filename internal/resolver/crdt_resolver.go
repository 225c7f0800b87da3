// Package resolver folds incoming CRDT changes into a document's
// materialized snapshot. The wire-level CRDT algorithm is treated as
// opaque change bytes; this package's only contract is that applying the
// same change twice is a no-op and that two sides which diverged locally
// are reconciled deterministically via a three-way text merge rather than
// one side's edits silently winning.
package resolver

import (
	"github.com/zincnote/zincsync/internal/clock"
	"github.com/zincnote/zincsync/internal/merge"
	"github.com/zincnote/zincsync/internal/monitoring"
	"github.com/zincnote/zincsync/internal/storage"
	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// Resolver applies remote CRDT changes to locally stored documents.
type Resolver struct {
	repo    *storage.CrdtRepository
	metrics *monitoring.Metrics
}

// New constructs a Resolver backed by repo. metrics may be nil.
func New(repo *storage.CrdtRepository, metrics *monitoring.Metrics) *Resolver {
	return &Resolver{repo: repo, metrics: metrics}
}

// ApplyChange records change in docID's append-only log and folds its text
// into the document's materialized snapshot.
//
// "ours" is the snapshot as it stands now. "theirs" is the incoming
// change. The merge base depends on who made the most recent change this
// node already applied: if it was change's own actor, this is a plain
// sequential continuation of that actor's own history and the base is
// "ours" itself (always a clean fast-forward). If it was a different
// actor, the two changes are concurrent from this node's point of view,
// and the base is the text from before that other actor's edit — the
// last point the two actors are known to have agreed on.
//
// A duplicate (doc_id, actor_id, seq_num) is treated as already applied:
// ApplyChange returns merge.Clean and a nil error, matching at-least-once
// delivery semantics.
func (r *Resolver) ApplyChange(docID string, change types.CrdtChange, now int64) (merge.Kind, error) {
	row, err := r.repo.AppendChange(change, now)
	if err != nil {
		if zerrors.Is(err, zerrors.Conflict) {
			return merge.Clean, nil
		}
		return merge.Clean, err
	}
	change.Row = row

	doc, err := r.repo.GetDocument(docID)
	if err != nil {
		return merge.Clean, err
	}

	base, err := r.mergeBase(docID, change, string(doc.Snapshot))
	if err != nil {
		return merge.Clean, err
	}

	result := merge.ThreeWay(base, string(doc.Snapshot), string(change.ChangeBytes))
	if result.Kind == merge.Conflict && r.metrics != nil {
		r.metrics.MergeConflicts.Inc()
	}

	// Merge takes the max per actor, so a duplicate or stale seq_num for an
	// actor already at or past it is a no-op rather than a regression.
	vc := clock.Merge(clock.Clone(doc.VectorClock), clock.VectorClock{change.ActorID: change.SeqNum})
	if err := r.repo.UpdateSnapshot(docID, []byte(result.Merged), vc, now); err != nil {
		return result.Kind, err
	}
	return result.Kind, nil
}

// mergeBase determines the three-way merge ancestor for change, which has
// already been appended to docID's log as its newest row.
func (r *Resolver) mergeBase(docID string, change types.CrdtChange, snapshot string) (string, error) {
	history, err := r.repo.ChangesFor(docID)
	if err != nil {
		return "", err
	}
	// history's last entry is change itself; fewer than two entries
	// means this is the document's first change ever, with no recorded
	// text to diverge from.
	if len(history) < 2 {
		return "", nil
	}
	previous := history[len(history)-2]
	if previous.ActorID == change.ActorID {
		return snapshot, nil
	}
	if len(history) < 3 {
		return "", nil
	}
	return string(history[len(history)-3].ChangeBytes), nil
}
