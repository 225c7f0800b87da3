package resolver

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zincnote/zincsync/internal/merge"
	"github.com/zincnote/zincsync/internal/monitoring"
	"github.com/zincnote/zincsync/internal/storage"
	"github.com/zincnote/zincsync/internal/types"
)

func newTestRepo(t *testing.T) *storage.CrdtRepository {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := storage.NewWorkspaceRepository(db).Create(types.Workspace{ID: "ws-1", Name: "W", CreatedAt: 1, UpdatedAt: 1}); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if err := storage.NewPageRepository(db).Create(types.Page{
		ID: "pg-1", WorkspaceID: "ws-1", Title: "Notes", CrdtDocID: "doc-1", CreatedAt: 1, UpdatedAt: 1,
	}); err != nil {
		t.Fatalf("create page: %v", err)
	}
	repo := storage.NewCrdtRepository(db)
	if err := repo.CreateDocument(types.CrdtDocument{
		DocID: "doc-1", PageID: "pg-1", Snapshot: []byte(""), VectorClock: map[string]int64{}, UpdatedAt: 1,
	}); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return repo
}

func TestApplyChangeFirstChangeFastForwards(t *testing.T) {
	repo := newTestRepo(t)
	r := New(repo, nil)

	kind, err := r.ApplyChange("doc-1", types.CrdtChange{
		DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("hello"),
	}, 10)
	if err != nil {
		t.Fatalf("apply change: %v", err)
	}
	if kind != merge.Clean {
		t.Fatalf("expected Clean, got %v", kind)
	}

	doc, err := repo.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if string(doc.Snapshot) != "hello" {
		t.Errorf("snapshot = %q, want %q", doc.Snapshot, "hello")
	}
	if doc.VectorClock["dev-a"] != 1 {
		t.Errorf("vector clock[dev-a] = %d, want 1", doc.VectorClock["dev-a"])
	}
}

func TestApplyChangeSecondChangeFromSameActorIsCleanFastForward(t *testing.T) {
	repo := newTestRepo(t)
	r := New(repo, nil)

	if _, err := r.ApplyChange("doc-1", types.CrdtChange{
		DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("a\nb\n"),
	}, 10); err != nil {
		t.Fatalf("apply change 1: %v", err)
	}

	kind, err := r.ApplyChange("doc-1", types.CrdtChange{
		DocID: "doc-1", ActorID: "dev-a", SeqNum: 2, ChangeBytes: []byte("a\nb\nc\n"),
	}, 11)
	if err != nil {
		t.Fatalf("apply change 2: %v", err)
	}
	if kind != merge.Clean {
		t.Fatalf("expected Clean, got %v", kind)
	}

	doc, err := repo.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if string(doc.Snapshot) != "a\nb\nc\n" {
		t.Errorf("snapshot = %q, want %q", doc.Snapshot, "a\nb\nc\n")
	}
}

func TestApplyChangeConcurrentEditsFromDifferentActorsConflict(t *testing.T) {
	repo := newTestRepo(t)
	r := New(repo, nil)

	if _, err := r.ApplyChange("doc-1", types.CrdtChange{
		DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("a\nb\nc"),
	}, 10); err != nil {
		t.Fatalf("seed change: %v", err)
	}

	// dev-a edits concurrently with dev-b, both starting from "a\nb\nc".
	if _, err := r.ApplyChange("doc-1", types.CrdtChange{
		DocID: "doc-1", ActorID: "dev-a", SeqNum: 2, ChangeBytes: []byte("a\nX\nc"),
	}, 11); err != nil {
		t.Fatalf("apply dev-a edit: %v", err)
	}

	kind, err := r.ApplyChange("doc-1", types.CrdtChange{
		DocID: "doc-1", ActorID: "dev-b", SeqNum: 1, ChangeBytes: []byte("a\nY\nc"),
	}, 12)
	if err != nil {
		t.Fatalf("apply dev-b edit: %v", err)
	}
	if kind != merge.Conflict {
		t.Fatalf("expected Conflict, got %v", kind)
	}

	doc, err := repo.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	want := "a\n<<<<<<< ours\nX\n=======\nY\n>>>>>>> theirs\nc"
	if string(doc.Snapshot) != want {
		t.Errorf("snapshot = %q, want %q", doc.Snapshot, want)
	}
	if doc.VectorClock["dev-a"] != 2 || doc.VectorClock["dev-b"] != 1 {
		t.Errorf("vector clock = %+v, want dev-a:2 dev-b:1", doc.VectorClock)
	}
}

func TestApplyChangeConflictIncrementsMergeConflictsMetric(t *testing.T) {
	repo := newTestRepo(t)
	metrics := monitoring.NewMetrics()
	r := New(repo, metrics)

	if _, err := r.ApplyChange("doc-1", types.CrdtChange{
		DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("a\nb\nc"),
	}, 10); err != nil {
		t.Fatalf("seed change: %v", err)
	}
	if _, err := r.ApplyChange("doc-1", types.CrdtChange{
		DocID: "doc-1", ActorID: "dev-a", SeqNum: 2, ChangeBytes: []byte("a\nX\nc"),
	}, 11); err != nil {
		t.Fatalf("apply dev-a edit: %v", err)
	}

	before := testutil.ToFloat64(metrics.MergeConflicts)
	kind, err := r.ApplyChange("doc-1", types.CrdtChange{
		DocID: "doc-1", ActorID: "dev-b", SeqNum: 1, ChangeBytes: []byte("a\nY\nc"),
	}, 12)
	if err != nil {
		t.Fatalf("apply dev-b edit: %v", err)
	}
	if kind != merge.Conflict {
		t.Fatalf("expected Conflict, got %v", kind)
	}
	after := testutil.ToFloat64(metrics.MergeConflicts)
	if after != before+1 {
		t.Errorf("MergeConflicts went from %v to %v, want +1", before, after)
	}
}

func TestApplyChangeDuplicateIsNoOp(t *testing.T) {
	repo := newTestRepo(t)
	r := New(repo, nil)

	change := types.CrdtChange{DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("hello")}
	if _, err := r.ApplyChange("doc-1", change, 10); err != nil {
		t.Fatalf("apply change: %v", err)
	}

	kind, err := r.ApplyChange("doc-1", change, 11)
	if err != nil {
		t.Fatalf("reapply duplicate change: %v", err)
	}
	if kind != merge.Clean {
		t.Fatalf("expected Clean on duplicate, got %v", kind)
	}

	doc, err := repo.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if string(doc.Snapshot) != "hello" {
		t.Errorf("duplicate change mutated snapshot: %q", doc.Snapshot)
	}
}
