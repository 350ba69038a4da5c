// Package crdt implements the union-string subset and delta algebra, and
// the revision engine built on top of them, that back a collaboratively
// edited document.
package crdt

import "github.com/polqt/xicrdt/rope"

// run is one maximal run of positions sharing the same deleted-ness.
type run struct {
	len     int
	deleted bool
}

// Subset marks a set of positions within some union string as deleted.
// It is represented as a run-length encoding of deleted/kept runs. A
// Subset never stores its own length: any union length greater than the
// sum of its runs is treated as an implicit trailing kept run, so the
// zero value Subset{} means "nothing deleted" against a union of any
// length. Every operation below that cares about the true union length
// takes it explicitly, rather than inferring it from the runs alone —
// inferring it would silently drop any implicit trailing kept content.
// Operations panic if the subset's runs add up to more than the length
// they are handed — exceeding it is always a caller error.
type Subset struct {
	runs []run
}

func sumLen(rs []run) int {
	n := 0
	for _, r := range rs {
		n += r.len
	}
	return n
}

// padTo returns rs extended with a trailing kept run so it sums to
// length. Panics if rs already exceeds length.
func padTo(rs []run, length int) []run {
	sum := sumLen(rs)
	if sum == length {
		return rs
	}
	if sum > length {
		panic("crdt: subset longer than union length")
	}
	out := make([]run, len(rs), len(rs)+1)
	copy(out, rs)
	return append(out, run{len: length - sum, deleted: false})
}

// IsEmpty reports whether the subset marks no positions as deleted.
func (s Subset) IsEmpty() bool {
	for _, r := range s.runs {
		if r.deleted {
			return false
		}
	}
	return true
}

// LenAfterDelete returns the number of positions left in a union string
// of the given length once the marked positions are removed.
func (s Subset) LenAfterDelete(unionLen int) int {
	rs := padTo(s.runs, unionLen)
	kept := 0
	for _, r := range rs {
		if !r.deleted {
			kept += r.len
		}
	}
	return kept
}

// Complement flips deleted/kept for every position in a union string of
// the given length.
func (s Subset) Complement(unionLen int) Subset {
	rs := padTo(s.runs, unionLen)
	var b SubsetBuilder
	for _, r := range rs {
		b.push(r.len, !r.deleted)
	}
	return b.Build()
}

// Range is a half-open [Start, End) span of union-string positions.
type Range struct {
	Start, End int
}

// ComplementIter yields the kept (non-deleted) ranges of a union string
// of the given length, in order.
type ComplementIter struct {
	runs []run
	idx  int
	pos  int
}

// ComplementIter returns an iterator over the kept ranges of s within a
// union string of the given length.
func (s Subset) ComplementIter(unionLen int) *ComplementIter {
	return &ComplementIter{runs: padTo(s.runs, unionLen)}
}

// Next returns the next kept range, or false once exhausted.
func (it *ComplementIter) Next() (Range, bool) {
	for it.idx < len(it.runs) {
		r := it.runs[it.idx]
		beg := it.pos
		it.pos += r.len
		it.idx++
		if !r.deleted {
			return Range{beg, it.pos}, true
		}
	}
	return Range{}, false
}

// Union returns the pointwise OR of s and other, both taken over a union
// string of the given length.
func (s Subset) Union(other Subset, unionLen int) Subset {
	a := padTo(s.runs, unionLen)
	b := padTo(other.runs, unionLen)

	var out SubsetBuilder
	i, ioff := 0, 0
	j, joff := 0, 0
	for i < len(a) && j < len(b) {
		take := min(a[i].len-ioff, b[j].len-joff)
		out.push(take, a[i].deleted || b[j].deleted)
		ioff += take
		joff += take
		if ioff == a[i].len {
			i++
			ioff = 0
		}
		if joff == b[j].len {
			j++
			joff = 0
		}
	}
	return out.Build()
}

// Equal reports whether s and other mark the same positions as deleted
// within a union string of the given length.
func (s Subset) Equal(other Subset, unionLen int) bool {
	a := padTo(s.runs, unionLen)
	b := padTo(other.runs, unionLen)
	i, ioff := 0, 0
	j, joff := 0, 0
	for i < len(a) || j < len(b) {
		if i >= len(a) || j >= len(b) {
			return false
		}
		take := min(a[i].len-ioff, b[j].len-joff)
		if a[i].deleted != b[j].deleted {
			return false
		}
		ioff += take
		joff += take
		if ioff == a[i].len {
			i++
			ioff = 0
		}
		if joff == b[j].len {
			j++
			joff = 0
		}
	}
	return true
}

// transformInsert is shared by TransformExpand and TransformUnion. xform
// marks, within the new, larger union of the given length, the positions
// that were freshly inserted (deleted=true); its other positions
// (deleted=false) correspond one-for-one, in order, with every position
// of s's old, smaller union. Freshly-inserted positions are assigned
// insertedDeleted in the result.
func (s Subset) transformInsert(xform Subset, newLen int, insertedDeleted bool) Subset {
	segs := padTo(xform.runs, newLen)

	oldLen := 0
	for _, r := range segs {
		if !r.deleted {
			oldLen += r.len
		}
	}
	sr := padTo(s.runs, oldLen)

	var out SubsetBuilder
	si, soff := 0, 0
	for _, r := range segs {
		if r.deleted {
			out.push(r.len, insertedDeleted)
			continue
		}
		remaining := r.len
		for remaining > 0 {
			avail := sr[si].len - soff
			take := min(avail, remaining)
			out.push(take, sr[si].deleted)
			soff += take
			remaining -= take
			if soff == sr[si].len {
				si++
				soff = 0
			}
		}
	}
	return out.Build()
}

// TransformExpand lifts s, a subset of some old, smaller union, into a
// new union of the given length, as described by xform (whose
// deleted-marked positions are the ones freshly added since s was
// built). Newly-added positions are left kept.
func (s Subset) TransformExpand(xform Subset, newLen int) Subset {
	return s.transformInsert(xform, newLen, false)
}

// TransformUnion is TransformExpand, but newly-added positions are
// themselves marked deleted in the result.
func (s Subset) TransformUnion(xform Subset, newLen int) Subset {
	return s.transformInsert(xform, newLen, true)
}

// TransformShrink removes from s the positions xform marks deleted,
// producing a subset of the smaller universe xform leaves behind. s and
// xform both describe a union string of the given length.
func (s Subset) TransformShrink(xform Subset, unionLen int) Subset {
	sr := padTo(s.runs, unionLen)
	xr := padTo(xform.runs, unionLen)

	var out SubsetBuilder
	xi, xoff := 0, 0
	for _, r := range sr {
		remaining := r.len
		for remaining > 0 {
			avail := xr[xi].len - xoff
			take := min(avail, remaining)
			if !xr[xi].deleted {
				out.push(take, r.deleted)
			}
			xoff += take
			remaining -= take
			if xoff == xr[xi].len {
				xi++
				xoff = 0
			}
		}
	}
	return out.Build()
}

// DeleteFrom concatenates the kept subranges of seq, dropping everything
// s marks as deleted.
func (s Subset) DeleteFrom(seq rope.Seq) rope.Seq {
	it := s.ComplementIter(seq.Len())
	var parts []rope.Seq
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		parts = append(parts, seq.Subrange(r.Start, r.End))
	}
	return rope.Concat(parts...)
}

// Mapper translates a position in the full union coordinate space into a
// position within the subsequence made up of exactly the positions this
// subset marks as deleted. Calls must be made with non-decreasing doc
// positions; it is a forward-only cursor. Once its explicit runs are
// exhausted, every further doc position is treated as implicitly kept,
// so the mapped position simply stops advancing.
type Mapper struct {
	runs   []run
	idx    int
	docPos int
	subPos int
}

// Mapper returns a fresh cursor over s.
func (s Subset) Mapper() *Mapper {
	return &Mapper{runs: s.runs}
}

// DocIndexToSubset maps doc, a position in the union coordinate space, to
// its position within the deleted-only subsequence.
func (m *Mapper) DocIndexToSubset(doc int) int {
	for m.idx < len(m.runs) {
		r := m.runs[m.idx]
		end := m.docPos + r.len
		if doc < end {
			if r.deleted {
				return m.subPos + (doc - m.docPos)
			}
			return m.subPos
		}
		if r.deleted {
			m.subPos += r.len
		}
		m.docPos = end
		m.idx++
	}
	return m.subPos
}

// labeledRange is one run of a Subset rendered as an absolute range.
type labeledRange struct {
	Range
	Deleted bool
}

// labeledRanges renders every run of s as an absolute, deleted-labeled
// range over a union string of the given length.
func (s Subset) labeledRanges(unionLen int) []labeledRange {
	rs := padTo(s.runs, unionLen)
	out := make([]labeledRange, 0, len(rs))
	pos := 0
	for _, r := range rs {
		out = append(out, labeledRange{Range{pos, pos + r.len}, r.deleted})
		pos += r.len
	}
	return out
}

// SubsetBuilder accumulates a Subset by marking successive deleted ranges in
// non-decreasing order. Gaps between calls to AddRange are implicitly
// kept.
type SubsetBuilder struct {
	runs []run
	last int
}

// push appends length units with the given deleted flag, merging into the
// previous run when it shares the same flag.
func (b *SubsetBuilder) push(length int, deleted bool) {
	if length <= 0 {
		return
	}
	if n := len(b.runs); n > 0 && b.runs[n-1].deleted == deleted {
		b.runs[n-1].len += length
	} else {
		b.runs = append(b.runs, run{len: length, deleted: deleted})
	}
}

// AddRange marks [beg, end) as deleted. beg must be >= the end of the
// previous call; positions between the previous end and beg are left
// kept.
func (b *SubsetBuilder) AddRange(beg, end int) {
	if beg < b.last {
		panic("crdt: subset builder ranges must be non-decreasing")
	}
	b.push(beg-b.last, false)
	b.push(end-beg, true)
	b.last = end
}

// IsEmpty reports whether AddRange has marked anything deleted yet.
func (b *SubsetBuilder) IsEmpty() bool {
	for _, r := range b.runs {
		if r.deleted {
			return false
		}
	}
	return true
}

// Build finalizes the accumulated runs into a Subset.
func (b *SubsetBuilder) Build() Subset {
	return Subset{runs: b.runs}
}
