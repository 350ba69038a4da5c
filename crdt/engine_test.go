package crdt

import (
	"testing"

	"github.com/polqt/xicrdt/rope"
)

func buildDelta1() Delta {
	var b Builder
	b.Init(len(testStr))
	b.Delete(10, 36)
	b.Replace(39, 42, rope.Of("DEEF"))
	b.Replace(54, 54, rope.Of("999"))
	b.Delete(58, 61)
	return b.Build()
}

func buildDelta2() Delta {
	var b Builder
	b.Init(len(testStr))
	b.Replace(1, 3, rope.Of("!"))
	b.Delete(10, 36)
	b.Replace(42, 45, rope.Of("GI"))
	b.Replace(54, 54, rope.Of("888"))
	b.Replace(59, 60, rope.Of("HI"))
	return b.Build()
}

func TestEngineEditRevSimple(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	e.EditRev(0, 0, 0, buildDelta1())
	want := "0123456789abcDEEFghijklmnopqr999stuvz"
	if got := e.GetHead().String(); got != want {
		t.Fatalf("GetHead = %q, want %q", got, want)
	}
}

func TestEngineEditRevConcurrent(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	e.EditRev(1, 0, 0, buildDelta1())
	e.EditRev(0, 1, 0, buildDelta2())
	want := "0!3456789abcDEEFGIjklmnopqr888999stuvHIz"
	if got := e.GetHead().String(); got != want {
		t.Fatalf("GetHead = %q, want %q", got, want)
	}
}

func undoScenario(before bool, undos map[int]struct{}) string {
	e := NewEngine(rope.Of(testStr))
	if before {
		e.Undo(undos)
	}
	e.EditRev(1, 0, 0, buildDelta1())
	e.EditRev(0, 1, 0, buildDelta2())
	if !before {
		e.Undo(undos)
	}
	return e.GetHead().String()
}

func groupSet(gs ...int) map[int]struct{} {
	s := make(map[int]struct{}, len(gs))
	for _, g := range gs {
		s[g] = struct{}{}
	}
	return s
}

func TestEngineEditRevUndo(t *testing.T) {
	if got := undoScenario(true, groupSet(0, 1)); got != testStr {
		t.Fatalf("undo both groups before editing = %q, want original", got)
	}
}

func TestEngineEditRevUndo2(t *testing.T) {
	want := "0123456789abcDEEFghijklmnopqr999stuvz"
	if got := undoScenario(true, groupSet(1)); got != want {
		t.Fatalf("undo group 1 before editing = %q, want %q", got, want)
	}
}

func TestEngineEditRevUndo3(t *testing.T) {
	want := "0!3456789abcdefGIjklmnopqr888stuvwHIyz"
	if got := undoScenario(true, groupSet(0)); got != want {
		t.Fatalf("undo group 0 before editing = %q, want %q", got, want)
	}
}

func TestEngineUndo(t *testing.T) {
	if got := undoScenario(false, groupSet(0, 1)); got != testStr {
		t.Fatalf("undo both groups after editing = %q, want original", got)
	}
}

func TestEngineUndo2(t *testing.T) {
	want := "0123456789abcDEEFghijklmnopqr999stuvz"
	if got := undoScenario(false, groupSet(1)); got != want {
		t.Fatalf("undo group 1 after editing = %q, want %q", got, want)
	}
}

func TestEngineUndo3(t *testing.T) {
	want := "0!3456789abcdefGIjklmnopqr888stuvwHIyz"
	if got := undoScenario(false, groupSet(0)); got != want {
		t.Fatalf("undo group 0 after editing = %q, want %q", got, want)
	}
}

func TestEngineUndo4(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	d1 := SimpleEdit(Interval{0, 0}, rope.Of("a"), len(testStr))
	e.EditRev(1, 0, 0, d1)
	e.Undo(groupSet(0))
	d2 := SimpleEdit(Interval{0, 0}, rope.Of("a"), len(testStr)+1)
	e.EditRev(1, 1, 1, d2)
	d3 := SimpleEdit(Interval{0, 0}, rope.Of("b"), len(testStr))
	e.EditRev(1, 2, 2, d3)
	e.Undo(groupSet(0, 2))
	want := "a" + testStr
	if got := e.GetHead().String(); got != want {
		t.Fatalf("GetHead = %q, want %q", got, want)
	}
}

func TestEngineDeltaRevHead(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	e.EditRev(1, 0, 0, buildDelta1())
	d := e.DeltaRevHead(0)
	if got := d.Apply(rope.Of(testStr)).String(); got != e.GetHead().String() {
		t.Fatalf("DeltaRevHead(0).Apply(TEST_STR) = %q, want %q", got, e.GetHead())
	}
}

func TestEngineDeltaRevHead2(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	e.EditRev(1, 0, 0, buildDelta1())
	e.EditRev(0, 1, 0, buildDelta2())
	d := e.DeltaRevHead(0)
	if got := d.Apply(rope.Of(testStr)).String(); got != e.GetHead().String() {
		t.Fatalf("DeltaRevHead(0).Apply(TEST_STR) = %q, want %q", got, e.GetHead())
	}
}

func TestEngineDeltaRevHead3(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	e.EditRev(1, 0, 0, buildDelta1())
	e.EditRev(0, 1, 0, buildDelta2())
	d := e.DeltaRevHead(1)
	base := "0123456789abcDEEFghijklmnopqr999stuvz"
	if got := d.Apply(rope.Of(base)).String(); got != e.GetHead().String() {
		t.Fatalf("DeltaRevHead(1).Apply(rev1) = %q, want %q", got, e.GetHead())
	}
}

func TestEngineGetRev(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	e.EditRev(1, 0, 0, buildDelta1())
	got, ok := e.GetRev(0)
	if !ok {
		t.Fatalf("GetRev(0) not found")
	}
	if got.String() != testStr {
		t.Fatalf("GetRev(0) = %q, want original", got)
	}
}

func TestEngineGetRevMissing(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	if _, ok := e.GetRev(99); ok {
		t.Fatalf("GetRev(99) should not be found")
	}
}

func TestEngineIsEquivalentRevision(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	e.EditRev(1, 0, 0, buildDelta1())
	if !e.IsEquivalentRevision(0, 0) {
		t.Fatalf("a revision must be equivalent to itself")
	}
	if e.IsEquivalentRevision(0, 1) {
		t.Fatalf("rev 0 and rev 1 delete different content and should not be equivalent")
	}
}

func TestEngineGC(t *testing.T) {
	e := NewEngine(rope.Of(testStr))
	e.EditRev(1, 0, 0, buildDelta1())
	e.Undo(groupSet(0))
	headBefore := e.GetHead().String()
	e.GC(groupSet(0))
	if got := e.GetHead().String(); got != headBefore {
		t.Fatalf("GC must not change the head content: got %q, want %q", got, headBefore)
	}
	if got, ok := e.GetRev(e.GetHeadRevID()); !ok || got.String() != headBefore {
		t.Fatalf("the retained head revision should still be reachable after GC with unchanged content")
	}
}
