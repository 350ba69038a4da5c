package crdt

// IndexSet holds a set of integer indices as a sorted, non-overlapping list
// of half-open ranges. Sessions use it to accumulate the byte ranges of
// document text that changed since they were last sent a delta, independent
// of the Subset/Delta algebra the engine itself runs on.
type IndexSet struct {
	ranges []Range
}

// Clear empties the set.
func (s *IndexSet) Clear() {
	s.ranges = nil
}

// UnionOneRange adds [start, end) to the set, merging it with any ranges it
// overlaps or touches.
func (s *IndexSet) UnionOneRange(start, end int) {
	for i, r := range s.ranges {
		if start > r.End {
			continue
		}
		if end < r.Start {
			s.ranges = append(s.ranges, Range{})
			copy(s.ranges[i+1:], s.ranges[i:])
			s.ranges[i] = Range{start, end}
			return
		}
		s.ranges[i].Start = min(start, r.Start)
		j := i
		for j+1 < len(s.ranges) && end >= s.ranges[j+1].Start {
			j++
		}
		s.ranges[i].End = max(end, s.ranges[j].End)
		s.ranges = append(s.ranges[:i+1], s.ranges[j+1:]...)
		return
	}
	s.ranges = append(s.ranges, Range{start, end})
}

// MinusIter yields the portions of [start, end) not covered by an IndexSet.
type MinusIter struct {
	ranges []Range
	pos    int
	end    int
}

// MinusOneRange returns an iterator over [start, end) with this set's
// coverage removed.
func (s *IndexSet) MinusOneRange(start, end int) *MinusIter {
	ranges := s.ranges
	for len(ranges) > 0 && start >= ranges[0].End {
		ranges = ranges[1:]
	}
	return &MinusIter{ranges: ranges, pos: start, end: end}
}

// Next returns the next uncovered range, or false once exhausted.
func (it *MinusIter) Next() (Range, bool) {
	for it.pos < it.end {
		if len(it.ranges) == 0 || it.end <= it.ranges[0].Start {
			r := Range{it.pos, it.end}
			it.pos = it.end
			return r, true
		}
		r := Range{it.pos, it.ranges[0].Start}
		it.pos = it.ranges[0].End
		it.ranges = it.ranges[1:]
		if r.End > r.Start {
			return r, true
		}
	}
	return Range{}, false
}
