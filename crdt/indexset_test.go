package crdt

import "testing"

func collectMinus(it *MinusIter) []Range {
	var got []Range
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, r)
	}
	return got
}

func assertRanges(t *testing.T, got []Range, want ...Range) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ranges = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranges = %v, want %v", got, want)
		}
	}
}

func TestIndexSetEmptyBehavior(t *testing.T) {
	var e IndexSet
	assertRanges(t, collectMinus(e.MinusOneRange(0, 0)))
	assertRanges(t, collectMinus(e.MinusOneRange(3, 5)), Range{3, 5})
}

func TestIndexSetSingleRangeBehavior(t *testing.T) {
	var e IndexSet
	e.UnionOneRange(3, 5)
	assertRanges(t, collectMinus(e.MinusOneRange(0, 0)))
	assertRanges(t, collectMinus(e.MinusOneRange(3, 5)))
	assertRanges(t, collectMinus(e.MinusOneRange(0, 3)), Range{0, 3})
	assertRanges(t, collectMinus(e.MinusOneRange(0, 4)), Range{0, 3})
	assertRanges(t, collectMinus(e.MinusOneRange(4, 10)), Range{5, 10})
	assertRanges(t, collectMinus(e.MinusOneRange(5, 10)), Range{5, 10})
	assertRanges(t, collectMinus(e.MinusOneRange(0, 10)), Range{0, 3}, Range{5, 10})
}

func TestIndexSetTwoRangeMinus(t *testing.T) {
	var e IndexSet
	e.UnionOneRange(3, 5)
	e.UnionOneRange(7, 9)
	assertRanges(t, collectMinus(e.MinusOneRange(0, 0)))
	assertRanges(t, collectMinus(e.MinusOneRange(3, 5)))
	assertRanges(t, collectMinus(e.MinusOneRange(0, 3)), Range{0, 3})
	assertRanges(t, collectMinus(e.MinusOneRange(0, 4)), Range{0, 3})
	assertRanges(t, collectMinus(e.MinusOneRange(4, 10)), Range{5, 7}, Range{9, 10})
	assertRanges(t, collectMinus(e.MinusOneRange(5, 10)), Range{5, 7}, Range{9, 10})
	assertRanges(t, collectMinus(e.MinusOneRange(8, 10)), Range{9, 10})
	assertRanges(t, collectMinus(e.MinusOneRange(0, 10)), Range{0, 3}, Range{5, 7}, Range{9, 10})
}

func TestIndexSetUnions(t *testing.T) {
	var e IndexSet
	e.UnionOneRange(3, 5)
	assertRanges(t, e.ranges, Range{3, 5})
	e.UnionOneRange(7, 9)
	assertRanges(t, e.ranges, Range{3, 5}, Range{7, 9})
	e.UnionOneRange(1, 2)
	assertRanges(t, e.ranges, Range{1, 2}, Range{3, 5}, Range{7, 9})
	e.UnionOneRange(2, 3)
	assertRanges(t, e.ranges, Range{1, 5}, Range{7, 9})
	e.UnionOneRange(4, 6)
	assertRanges(t, e.ranges, Range{1, 6}, Range{7, 9})
	assertRanges(t, collectMinus(e.MinusOneRange(0, 10)), Range{0, 1}, Range{6, 7}, Range{9, 10})

	e.Clear()
	assertRanges(t, e.ranges)
	e.UnionOneRange(3, 4)
	assertRanges(t, e.ranges, Range{3, 4})
	e.UnionOneRange(5, 6)
	assertRanges(t, e.ranges, Range{3, 4}, Range{5, 6})
	e.UnionOneRange(7, 8)
	assertRanges(t, e.ranges, Range{3, 4}, Range{5, 6}, Range{7, 8})
	e.UnionOneRange(9, 10)
	assertRanges(t, e.ranges, Range{3, 4}, Range{5, 6}, Range{7, 8}, Range{9, 10})
	e.UnionOneRange(11, 12)
	assertRanges(t, e.ranges, Range{3, 4}, Range{5, 6}, Range{7, 8}, Range{9, 10}, Range{11, 12})
	e.UnionOneRange(2, 10)
	assertRanges(t, e.ranges, Range{2, 10}, Range{11, 12})
}
