package session

import (
	"reflect"
	"testing"

	"github.com/polqt/xicrdt/crdt"
)

func TestDocumentDrainDirtyCoalescesRanges(t *testing.T) {
	doc := NewDocument("doc1", "0123456789")
	doc.dirty["peer"] = &crdt.IndexSet{}
	doc.dirty["peer"].UnionOneRange(2, 4)
	doc.dirty["peer"].UnionOneRange(3, 6)
	doc.dirty["peer"].UnionOneRange(8, 9)

	got := doc.drainDirty("peer", 10)
	want := []crdt.Range{{Start: 2, End: 6}, {Start: 8, End: 9}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("drainDirty = %v, want %v", got, want)
	}

	if got := doc.drainDirty("peer", 10); got != nil {
		t.Fatalf("drainDirty after clear = %v, want nil", got)
	}
}

func TestDocumentDrainDirtyUnknownSession(t *testing.T) {
	doc := NewDocument("doc1", "0123456789")
	if got := doc.drainDirty("ghost", 10); got != nil {
		t.Fatalf("drainDirty for unknown session = %v, want nil", got)
	}
}
