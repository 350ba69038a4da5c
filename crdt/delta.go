package crdt

import "github.com/polqt/xicrdt/rope"

// element is one step of a Delta: either a copy of [beg,end) from the base
// sequence, or a literal insertion of text.
type element struct {
	isInsert bool
	beg, end int // valid when !isInsert
	text     rope.Seq
}

// Op is the JSON-friendly view of one Delta element, exposed so callers
// outside this package (the session wire layer) can serialize a Delta
// without reaching into its internals.
type Op struct {
	Insert   bool
	Beg, End int
	Text     string
}

// Delta describes how to build a new sequence out of copied ranges of a
// base sequence of length BaseLen interleaved with literal insertions.
type Delta struct {
	els     []element
	baseLen int
}

// InsertDelta is a Delta known to carry only insertions interleaved with
// copies (no deletions) — the product of Factor. Its extra methods only
// make sense in that restricted shape.
type InsertDelta struct {
	Delta
}

// appendEl appends e to els, merging it into the previous element when
// they are adjacent copies or adjacent inserts, and dropping no-ops.
func appendEl(els []element, e element) []element {
	if !e.isInsert && e.beg == e.end {
		return els
	}
	if e.isInsert && e.text.Len() == 0 {
		return els
	}
	if n := len(els); n > 0 {
		last := els[n-1]
		if !e.isInsert && !last.isInsert && last.end == e.beg {
			els[n-1].end = e.end
			return els
		}
		if e.isInsert && last.isInsert {
			els[n-1].text = rope.Concat(last.text, e.text)
			return els
		}
	}
	return append(els, e)
}

// BaseLen returns the length of the sequence this delta applies to.
func (d Delta) BaseLen() int { return d.baseLen }

// Ops returns the element list as a flat, JSON-friendly slice.
func (d Delta) Ops() []Op {
	out := make([]Op, len(d.els))
	for i, e := range d.els {
		if e.isInsert {
			out[i] = Op{Insert: true, Text: e.text.String()}
		} else {
			out[i] = Op{Beg: e.beg, End: e.end}
		}
	}
	return out
}

// NewDocumentLen returns the length of the sequence this delta produces.
func (d Delta) NewDocumentLen() int {
	n := 0
	for _, e := range d.els {
		if e.isInsert {
			n += e.text.Len()
		} else {
			n += e.end - e.beg
		}
	}
	return n
}

// Apply runs the delta against base, producing the resulting sequence.
func (d Delta) Apply(base rope.Seq) rope.Seq {
	if d.baseLen != base.Len() {
		panic("crdt: delta base length does not match sequence")
	}
	parts := make([]rope.Seq, len(d.els))
	for i, e := range d.els {
		if e.isInsert {
			parts[i] = e.text
		} else {
			parts[i] = base.Subrange(e.beg, e.end)
		}
	}
	return rope.Concat(parts...)
}

// Factor splits a Delta into an InsertDelta (the same inserts, with copies
// covering the whole base sequence, deleted positions included) and a
// Subset marking, over the base sequence, which positions d deletes.
func (d Delta) Factor() (InsertDelta, Subset) {
	var insEls []element
	var sb SubsetBuilder
	b1, e1 := 0, 0
	for _, e := range d.els {
		if e.isInsert {
			insEls = appendEl(insEls, element{beg: b1, end: e1})
			b1 = e1
			insEls = appendEl(insEls, e)
		} else {
			sb.AddRange(e1, e.beg)
			e1 = e.end
		}
	}
	insEls = appendEl(insEls, element{beg: b1, end: d.baseLen})
	sb.AddRange(e1, d.baseLen)
	return InsertDelta{Delta{els: insEls, baseLen: d.baseLen}}, sb.Build()
}

// Synthesize builds the Delta that turns the "from" text into the "to"
// text, where both are views of the same union string of the given
// length: fromDels/toDels mark which union positions are deleted as of
// each state, and tombstones holds the physical content of every
// position tombstoneDels currently marks deleted, in union order.
// Content kept in "to" but deleted in "from" is pulled out of tombstones.
func Synthesize(tombstones rope.Seq, tombstoneDels Subset, unionLen int, fromDels, toDels Subset) Delta {
	fromRanges := fromDels.labeledRanges(unionLen)
	fm := fromDels.Complement(unionLen).Mapper()
	tm := tombstoneDels.Mapper()

	var els []element
	fi := 0
	it := toDels.ComplementIter(unionLen)
	for {
		to, ok := it.Next()
		if !ok {
			break
		}
		pos := to.Start
		for pos < to.End {
			for fromRanges[fi].End <= pos {
				fi++
			}
			fr := fromRanges[fi]
			segEnd := min(to.End, fr.End)
			if !fr.Deleted {
				els = appendEl(els, element{beg: fm.DocIndexToSubset(pos), end: fm.DocIndexToSubset(segEnd)})
			} else {
				beg := tm.DocIndexToSubset(pos)
				end := tm.DocIndexToSubset(segEnd)
				els = appendEl(els, element{isInsert: true, text: tombstones.Subrange(beg, end)})
			}
			pos = segEnd
		}
	}
	return Delta{els: els, baseLen: fromDels.LenAfterDelete(unionLen)}
}

// Interval is a half-open [Start, End) span in some coordinate space.
type Interval struct {
	Start, End int
}

// IsBefore reports whether the whole interval lies at or before x.
func (iv Interval) IsBefore(x int) bool { return iv.End <= x }

// IsAfter reports whether the whole interval lies at or after x.
func (iv Interval) IsAfter(x int) bool { return iv.Start >= x }

// Summary trims the leading and trailing spans of d that are plain,
// untouched copies reaching all the way to the start/end of the base
// sequence, returning the remaining edited interval in base coordinates
// and the length of the document d produces.
func (d Delta) Summary() (Interval, int) {
	newLen := d.NewDocumentLen()

	start, end := 0, len(d.els)
	ivStart, ivEnd := 0, d.baseLen

	if start < end && !d.els[start].isInsert && d.els[start].beg == 0 {
		ivStart = d.els[start].end
		start++
	}
	if end > start && !d.els[end-1].isInsert && d.els[end-1].end == d.baseLen {
		ivEnd = d.els[end-1].beg
		end--
	}
	if ivStart > ivEnd {
		ivStart = ivEnd
	}
	return Interval{ivStart, ivEnd}, newLen
}

// SimpleEdit builds the Delta that replaces [iv.Start, iv.End) of a
// sequence of the given base length with text.
func SimpleEdit(iv Interval, text rope.Seq, baseLen int) Delta {
	var b Builder
	b.Init(baseLen)
	b.Replace(iv.Start, iv.End, text)
	return b.Build()
}

// Builder accumulates a Delta against a known base length by describing
// the edited spans in increasing, non-overlapping order; everything
// between calls is copied untouched.
type Builder struct {
	baseLen    int
	lastOffset int
	els        []element
}

// Init prepares b to build a delta over a sequence of the given length.
func (b *Builder) Init(baseLen int) { b.baseLen = baseLen }

// Delete removes [beg, end) of the base sequence.
func (b *Builder) Delete(beg, end int) {
	b.checkOrder(beg)
	b.els = appendEl(b.els, element{beg: b.lastOffset, end: beg})
	b.lastOffset = end
}

// Replace substitutes [beg, end) of the base sequence with text.
func (b *Builder) Replace(beg, end int, text rope.Seq) {
	b.checkOrder(beg)
	b.els = appendEl(b.els, element{beg: b.lastOffset, end: beg})
	if text.Len() > 0 {
		b.els = appendEl(b.els, element{isInsert: true, text: text})
	}
	b.lastOffset = end
}

func (b *Builder) checkOrder(beg int) {
	if beg < b.lastOffset {
		panic("crdt: delta builder intervals must be non-decreasing and non-overlapping")
	}
}

// IsEmpty reports whether the builder has emitted no elements yet; a
// Delete starting at the current offset emits none.
func (b *Builder) IsEmpty() bool { return len(b.els) == 0 }

// Build finalizes the delta, copying any untouched tail.
func (b *Builder) Build() Delta {
	els := appendEl(b.els, element{beg: b.lastOffset, end: b.baseLen})
	return Delta{els: els, baseLen: b.baseLen}
}

// InsertedSubset returns, over the new document this InsertDelta
// produces, the positions that came from insertions rather than copies.
func (d InsertDelta) InsertedSubset() Subset {
	var sb SubsetBuilder
	pos := 0
	for _, e := range d.els {
		if e.isInsert {
			sb.AddRange(pos, pos+e.text.Len())
			pos += e.text.Len()
		} else {
			pos += e.end - e.beg
		}
	}
	return sb.Build()
}

// oldToNewCursor walks old-universe boundaries forward, in non-decreasing
// order, mapping each to its position in the new, larger union xform
// describes (xform's deleted-marked runs are the positions freshly added
// since the old universe). A boundary landing exactly on one of those
// runs either consumes it (grab=true, landing just past it, available
// to whoever asks next) or leaves it for a later call to consume
// (grab=false, landing just before it).
type oldToNewCursor struct {
	segs []labeledRange
	si   int
	kept int
}

func newOldToNewCursor(xform Subset, newLen int) *oldToNewCursor {
	return &oldToNewCursor{segs: xform.labeledRanges(newLen)}
}

func (c *oldToNewCursor) at(old int, grab bool) int {
	for c.si < len(c.segs) {
		seg := c.segs[c.si]
		if seg.Deleted {
			if old != c.kept {
				// old still falls somewhere inside the next kept run;
				// this insertion is definitely behind it, pass through.
				c.si++
				continue
			}
			if !grab {
				return seg.Start
			}
			c.si++
			continue
		}
		width := seg.End - seg.Start
		if old-c.kept < width {
			return seg.Start + (old - c.kept)
		}
		c.kept += width
		c.si++
	}
	if len(c.segs) == 0 {
		return old
	}
	return c.segs[len(c.segs)-1].End
}

// TransformExpand rebases d onto the larger union of the given new
// length, as described by xform (xform's deleted-marked positions are
// the ones newly added since d was built). Content xform added is
// always folded into whichever of d's copies borders it; when d itself
// has an insertion immediately adjacent to one of those additions,
// after decides which side claims it: after true keeps d's insertion
// ordered after xform's addition, after false keeps it ordered before.
func (d InsertDelta) TransformExpand(xform Subset, newLen int, after bool) InsertDelta {
	c := newOldToNewCursor(xform, newLen)
	oldLen := 0
	for _, seg := range c.segs {
		if !seg.Deleted {
			oldLen += seg.End - seg.Start
		}
	}
	if oldLen != d.baseLen {
		panic("crdt: transform_expand length mismatch")
	}

	var els []element
	for i, e := range d.els {
		if e.isInsert {
			els = appendEl(els, e)
			continue
		}
		grabStart := true
		if i > 0 && d.els[i-1].isInsert && i >= 2 {
			grabStart = !after
		}
		grabEnd := true
		if i+1 < len(d.els) && d.els[i+1].isInsert && i+2 < len(d.els) {
			grabEnd = after
		}
		beg := c.at(e.beg, !grabStart)
		end := c.at(e.end, grabEnd)
		els = appendEl(els, element{beg: beg, end: end})
	}
	return InsertDelta{Delta{els: els, baseLen: newLen}}
}

// TransformShrink is the inverse of TransformExpand: it re-expresses d's
// copies in the smaller coordinate space left behind once xform's
// deleted-marked positions are removed.
func (d InsertDelta) TransformShrink(xform Subset) InsertDelta {
	compl := xform.Complement(d.baseLen)
	m := compl.Mapper()
	var els []element
	for _, e := range d.els {
		if e.isInsert {
			els = appendEl(els, e)
			continue
		}
		els = appendEl(els, element{beg: m.DocIndexToSubset(e.beg), end: m.DocIndexToSubset(e.end)})
	}
	// compl's deleted runs are exactly xform's kept positions, so the
	// mapper above ranks beg/end among them; the shrunk length is that
	// same count, which is xform's own kept count, not compl's.
	return InsertDelta{Delta{els: els, baseLen: xform.LenAfterDelete(d.baseLen)}}
}

// Transformer incrementally maps positions across the insertions a Delta
// carries, for callers (e.g. cursor/selection tracking) that don't need
// the whole rebased Delta.
type Transformer struct {
	d *Delta
}

// NewTransformer returns a Transformer for d.
func NewTransformer(d *Delta) *Transformer { return &Transformer{d: d} }

// Transform maps ix, a position in d's base coordinate space, forward
// through d's insertions into d's new-document coordinate space. When
// after is true and ix sits exactly at an insertion point, ix lands after
// that insertion; otherwise before it.
func (t *Transformer) Transform(ix int, after bool) int {
	basePos := 0
	out := 0
	for _, e := range t.d.els {
		if e.isInsert {
			if basePos == ix && !after {
				return out
			}
			out += e.text.Len()
			continue
		}
		if ix >= e.beg && ix < e.end {
			return out + (ix - e.beg)
		}
		basePos = e.end
		out += e.end - e.beg
	}
	return out
}

// IntervalUntouched reports whether iv, a span of d's base coordinate
// space, is left as a single untouched copy by d (no insertion or
// deletion falls inside it).
func (t *Transformer) IntervalUntouched(iv Interval) bool {
	for _, e := range t.d.els {
		if e.isInsert {
			continue
		}
		if e.beg <= iv.Start && e.end >= iv.End {
			return true
		}
	}
	return false
}
