// Package rope provides the persistent, cheaply-cloned sequence type the
// crdt package builds its union string and delta algebra on top of.
package rope

import "strings"

// Seq is an immutable run of text addressed in byte offsets. A Go string
// already gives the two properties a collaborator in this role needs:
// cloning is a header copy, and Subrange shares the original backing array
// instead of copying it.
type Seq string

// Empty is the zero-length sequence.
const Empty Seq = ""

// Of wraps a plain string as a Seq.
func Of(s string) Seq { return Seq(s) }

// Len returns the length in bytes.
func (s Seq) Len() int { return len(s) }

// Subrange returns the half-open range [beg, end) of s. The result shares
// storage with s; no copy is made.
func (s Seq) Subrange(beg, end int) Seq {
	if beg < 0 || end > len(s) || beg > end {
		panic("rope: subrange out of bounds")
	}
	return s[beg:end]
}

// String returns the plain string form.
func (s Seq) String() string { return string(s) }

// Concat joins parts in order into one sequence.
func Concat(parts ...Seq) Seq {
	switch len(parts) {
	case 0:
		return Empty
	case 1:
		return parts[0]
	}
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	var b strings.Builder
	b.Grow(total)
	for _, p := range parts {
		b.WriteString(string(p))
	}
	return Seq(b.String())
}
