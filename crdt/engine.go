package crdt

import "github.com/polqt/xicrdt/rope"

// Engine is a revision history for a single union string: a serialized,
// single-writer CRDT. Every EditRev/Undo call appends one revision and
// recomputes the current text and tombstones, and GC rewrites the retained
// history and compacts the tombstones; concurrency between editors
// is resolved entirely by rebasing each submitted Delta, via the Subset and
// Delta transform algebra, onto every revision made since that editor's
// base_rev.
type Engine struct {
	revIDCounter int
	text         rope.Seq
	tombstones   rope.Seq
	revs         []revision
}

// revision is one entry in the engine's history: either an Edit (a rebased
// delta, recorded as the inserts/deletes it contributed) or an Undo (the set
// of undo groups it toggled).
type revision struct {
	revID            int
	deletesFromUnion Subset
	unionStrLen      int
	edit             revisionContents
}

// revisionContents distinguishes an edit revision from an undo revision.
// Either the edit fields (priority, undoGroup, inserts, deletes) or groups
// are meaningful, selected by isUndo.
type revisionContents struct {
	isUndo bool

	priority  int
	undoGroup int
	inserts   Subset
	deletes   Subset

	groups map[int]struct{}
}

// NewEngine starts a fresh history with initialText as revision 0.
func NewEngine(initialText rope.Seq) *Engine {
	return &Engine{
		revIDCounter: 1,
		text:         initialText,
		tombstones:   rope.Empty,
		revs: []revision{{
			revID:       0,
			unionStrLen: initialText.Len(),
			edit:        revisionContents{isUndo: true, groups: map[int]struct{}{}},
		}},
	}
}

func (e *Engine) getCurrentUndo() (map[int]struct{}, bool) {
	for i := len(e.revs) - 1; i >= 0; i-- {
		if e.revs[i].edit.isUndo {
			return e.revs[i].edit.groups, true
		}
	}
	return nil, false
}

func (e *Engine) findRev(revID int) (int, bool) {
	for i := len(e.revs) - 1; i >= 0; i-- {
		if e.revs[i].revID == revID {
			return i, true
		}
	}
	return 0, false
}

// revContentForIndex returns the document text as it stood at revs[revIndex].
func (e *Engine) revContentForIndex(revIndex int) rope.Seq {
	oldDeletesFromUnion := e.deletesFromUnionForIndex(revIndex)
	head := e.revs[len(e.revs)-1]
	d := Synthesize(e.tombstones, head.deletesFromUnion, head.unionStrLen, head.deletesFromUnion, oldDeletesFromUnion)
	return d.Apply(e.text)
}

// deletesFromUnionForIndex returns the Subset to delete from the current
// union string to obtain the content as of revs[revIndex], by rolling every
// later revision's inserts forward through TransformUnion.
func (e *Engine) deletesFromUnionForIndex(revIndex int) Subset {
	d := e.revs[revIndex].deletesFromUnion
	for _, r := range e.revs[revIndex+1:] {
		if !r.edit.isUndo && !r.edit.inserts.IsEmpty() {
			d = d.TransformUnion(r.edit.inserts, r.unionStrLen)
		}
	}
	return d
}

// GetHeadRevID returns the revision id of the most recent revision.
func (e *Engine) GetHeadRevID() int {
	return e.revs[len(e.revs)-1].revID
}

// GetHead returns the current document text.
func (e *Engine) GetHead() rope.Seq {
	return e.text
}

// GetRev returns the document text as of rev, if rev is still in history.
func (e *Engine) GetRev(rev int) (rope.Seq, bool) {
	ix, ok := e.findRev(rev)
	if !ok {
		return rope.Empty, false
	}
	return e.revContentForIndex(ix), true
}

// DeltaRevHead returns a Delta that, applied to the content of baseRev,
// produces the current head. Panics if baseRev is not in history.
//
// TODO: this does not account for Undo revisions between baseRev and head;
// a base_rev straddling an undo can desynchronize the caller. Left as-is,
// matching the same open question in the engine this was ported from.
func (e *Engine) DeltaRevHead(baseRev int) Delta {
	ix, ok := e.findRev(baseRev)
	if !ok {
		panic("crdt: base revision not found")
	}
	rev := e.revs[ix]

	prevFromUnion := rev.deletesFromUnion
	for _, r := range e.revs[ix+1:] {
		if !r.edit.isUndo && !r.edit.inserts.IsEmpty() {
			prevFromUnion = prevFromUnion.TransformUnion(r.edit.inserts, r.unionStrLen)
		}
	}

	head := e.revs[len(e.revs)-1]
	oldTombstones := shuffleTombstones(e.text, e.tombstones, head.deletesFromUnion, prevFromUnion)
	return Synthesize(oldTombstones, prevFromUnion, head.unionStrLen, prevFromUnion, head.deletesFromUnion)
}

// mkNewRev rebases delta, submitted against baseRev with the given priority
// and undo group, onto the current head, and returns the revision that
// results along with the new text and tombstones it produces.
func (e *Engine) mkNewRev(newPriority, undoGroup, baseRev int, delta Delta) (revision, rope.Seq, rope.Seq) {
	ix, ok := e.findRev(baseRev)
	if !ok {
		panic("crdt: base revision not found")
	}
	rev := e.revs[ix]
	insDelta, deletes := delta.Factor()

	// Rebase onto the base_rev union instead of the submitter's text.
	unionInsDelta := insDelta.TransformExpand(rev.deletesFromUnion, rev.unionStrLen, true)
	newDeletes := deletes.TransformExpand(rev.deletesFromUnion, rev.unionStrLen)

	// Rebase onto the head union instead of the base_rev union.
	for _, r := range e.revs[ix+1:] {
		if !r.edit.isUndo && !r.edit.inserts.IsEmpty() {
			after := newPriority >= r.edit.priority // should never be ==
			unionInsDelta = unionInsDelta.TransformExpand(r.edit.inserts, r.unionStrLen, after)
			newDeletes = newDeletes.TransformExpand(r.edit.inserts, r.unionStrLen)
		}
	}

	// Rebase the deletion past our own freshly rebased inserts.
	newInserts := unionInsDelta.InsertedSubset()
	newUnionLen := unionInsDelta.NewDocumentLen()
	if !newInserts.IsEmpty() {
		newDeletes = newDeletes.TransformExpand(newInserts, newUnionLen)
	}

	// Rebase the insertions onto the current text and apply them.
	curDeletesFromUnion := e.revs[len(e.revs)-1].deletesFromUnion
	textInsDelta := unionInsDelta.TransformShrink(curDeletesFromUnion)
	textWithInserts := textInsDelta.Apply(e.text)
	rebasedDeletesFromUnion := curDeletesFromUnion.TransformExpand(newInserts, newUnionLen)

	undone := false
	if undos, ok := e.getCurrentUndo(); ok {
		_, undone = undos[undoGroup]
	}
	toDelete := newDeletes
	if undone {
		toDelete = newInserts
	}
	newDeletesFromUnion := rebasedDeletesFromUnion.Union(toDelete, newUnionLen)

	newText, newTombstones := shuffle(textWithInserts, e.tombstones, rebasedDeletesFromUnion, newDeletesFromUnion)

	return revision{
		revID:            e.revIDCounter,
		deletesFromUnion: newDeletesFromUnion,
		unionStrLen:      newUnionLen,
		edit: revisionContents{
			priority:  newPriority,
			undoGroup: undoGroup,
			inserts:   newInserts,
			deletes:   newDeletes,
		},
	}, newText, newTombstones
}

// shuffleTombstones recomputes tombstones after old/new deletesFromUnion
// change which union positions live in text vs. tombstones. Complementing
// both subsets turns this into the same synthesize-and-apply move used to
// shuffle text, with text and tombstones swapped.
func shuffleTombstones(text, tombstones rope.Seq, oldDeletesFromUnion, newDeletesFromUnion Subset) rope.Seq {
	unionLen := text.Len() + tombstones.Len()
	inverseTombstonesMap := oldDeletesFromUnion.Complement(unionLen)
	moveDelta := Synthesize(text, inverseTombstonesMap, unionLen, inverseTombstonesMap, newDeletesFromUnion.Complement(unionLen))
	return moveDelta.Apply(tombstones)
}

// shuffle moves union-string content between text and tombstones so that
// exactly newDeletesFromUnion's positions end up tombstoned.
func shuffle(text, tombstones rope.Seq, oldDeletesFromUnion, newDeletesFromUnion Subset) (rope.Seq, rope.Seq) {
	unionLen := text.Len() + tombstones.Len()
	delDelta := Synthesize(tombstones, oldDeletesFromUnion, unionLen, oldDeletesFromUnion, newDeletesFromUnion)
	newText := delDelta.Apply(text)
	return newText, shuffleTombstones(text, tombstones, oldDeletesFromUnion, newDeletesFromUnion)
}

// EditRev submits delta, composed against baseRev, as a new revision with
// the given priority and undo group. Callers must ensure priority is unique
// among concurrently-submitted edits sharing a baseRev; ties are resolved
// arbitrarily rather than detected. Panics if baseRev is not in history.
func (e *Engine) EditRev(priority, undoGroup, baseRev int, delta Delta) {
	newRev, newText, newTombstones := e.mkNewRev(priority, undoGroup, baseRev, delta)
	e.revIDCounter++
	e.revs = append(e.revs, newRev)
	e.text = newText
	e.tombstones = newTombstones
}

// computeUndo recomputes, from the start of history, the Subset that must
// be deleted from the union string once exactly the revisions in groups are
// undone.
func (e *Engine) computeUndo(groups map[int]struct{}) revision {
	var deletesFromUnion Subset
	for _, rev := range e.revs {
		if rev.edit.isUndo {
			continue
		}
		if _, in := groups[rev.edit.undoGroup]; in {
			if !rev.edit.inserts.IsEmpty() {
				deletesFromUnion = deletesFromUnion.TransformUnion(rev.edit.inserts, rev.unionStrLen)
			}
		} else {
			if !rev.edit.inserts.IsEmpty() {
				deletesFromUnion = deletesFromUnion.TransformExpand(rev.edit.inserts, rev.unionStrLen)
			}
			if !rev.edit.deletes.IsEmpty() {
				deletesFromUnion = deletesFromUnion.Union(rev.edit.deletes, rev.unionStrLen)
			}
		}
	}
	head := e.revs[len(e.revs)-1]
	return revision{
		revID:            e.revIDCounter,
		deletesFromUnion: deletesFromUnion,
		unionStrLen:      head.unionStrLen,
		edit:             revisionContents{isUndo: true, groups: groups},
	}
}

// Undo replaces the set of undone groups with groups: every edit whose undo
// group is in groups is undone, and every other edit is applied.
func (e *Engine) Undo(groups map[int]struct{}) {
	newRev := e.computeUndo(groups)
	curDeletesFromUnion := e.revs[len(e.revs)-1].deletesFromUnion
	newText, newTombstones := shuffle(e.text, e.tombstones, curDeletesFromUnion, newRev.deletesFromUnion)
	e.text = newText
	e.tombstones = newTombstones
	e.revs = append(e.revs, newRev)
	e.revIDCounter++
}

// IsEquivalentRevision reports whether baseRev and otherRev, both still in
// history, describe the same set of deletions from the current union
// string — i.e. they'd produce identical content.
func (e *Engine) IsEquivalentRevision(baseRev, otherRev int) bool {
	baseIx, baseOK := e.findRev(baseRev)
	otherIx, otherOK := e.findRev(otherRev)
	if !baseOK || !otherOK {
		return false
	}
	baseSubset := e.deletesFromUnionForIndex(baseIx)
	otherSubset := e.deletesFromUnionForIndex(otherIx)
	return baseSubset.Equal(otherSubset, e.revs[len(e.revs)-1].unionStrLen)
}

// GC drops every edit revision whose undo group is in gcGroups, and every
// undo revision, except the most recent revision, compacting tombstones that are
// no longer reachable from any retained revision. Deferring GC until all
// collaborators have quiesced keeps reachability simple; retaining
// arbitrary older revisions would need to track more undo history than this
// does.
func (e *Engine) GC(gcGroups map[int]struct{}) {
	var gcDels Subset
	retainRevs := map[int]struct{}{}
	if len(e.revs) > 0 {
		retainRevs[e.revs[len(e.revs)-1].revID] = struct{}{}
	}

	curUndo, hasCurUndo := e.getCurrentUndo()
	for _, rev := range e.revs {
		if rev.edit.isUndo {
			continue
		}
		_, retained := retainRevs[rev.revID]
		_, inGC := gcGroups[rev.edit.undoGroup]
		if !retained && inGC {
			undone := hasCurUndo
			if undone {
				_, undone = curUndo[rev.edit.undoGroup]
			}
			if undone {
				if !rev.edit.inserts.IsEmpty() {
					gcDels = gcDels.TransformUnion(rev.edit.inserts, rev.unionStrLen)
				}
			} else {
				if !rev.edit.inserts.IsEmpty() {
					gcDels = gcDels.TransformExpand(rev.edit.inserts, rev.unionStrLen)
				}
				if !rev.edit.deletes.IsEmpty() {
					gcDels = gcDels.Union(rev.edit.deletes, rev.unionStrLen)
				}
			}
		} else if !rev.edit.inserts.IsEmpty() {
			gcDels = gcDels.TransformExpand(rev.edit.inserts, rev.unionStrLen)
		}
	}

	if !gcDels.IsEmpty() {
		head := e.revs[len(e.revs)-1]
		notInTombstones := head.deletesFromUnion.Complement(head.unionStrLen)
		delsFromTombstones := gcDels.TransformShrink(notInTombstones, head.unionStrLen)
		e.tombstones = delsFromTombstones.DeleteFrom(e.tombstones)
	}

	oldRevs := e.revs
	e.revs = nil
	for i := len(oldRevs) - 1; i >= 0; i-- {
		rev := oldRevs[i]
		if rev.edit.isUndo {
			_, retained := retainRevs[rev.revID]
			if !retained {
				continue
			}
			deletesFromUnion, unionStrLen := rev.deletesFromUnion, rev.unionStrLen
			if !gcDels.IsEmpty() {
				deletesFromUnion = rev.deletesFromUnion.TransformShrink(gcDels, rev.unionStrLen)
				unionStrLen = gcDels.LenAfterDelete(rev.unionStrLen)
			}
			groups := map[int]struct{}{}
			for g := range rev.edit.groups {
				if _, drop := gcGroups[g]; !drop {
					groups[g] = struct{}{}
				}
			}
			e.revs = append(e.revs, revision{
				revID:            rev.revID,
				deletesFromUnion: deletesFromUnion,
				unionStrLen:      unionStrLen,
				edit:             revisionContents{isUndo: true, groups: groups},
			})
			continue
		}

		var newGCDels Subset
		hasNewGCDels := false
		if !rev.edit.inserts.IsEmpty() {
			newGCDels = gcDels.TransformShrink(rev.edit.inserts, rev.unionStrLen)
			hasNewGCDels = true
		}

		_, retained := retainRevs[rev.revID]
		_, inGC := gcGroups[rev.edit.undoGroup]
		if retained || !inGC {
			inserts, deletes, deletesFromUnion, unionStrLen := rev.edit.inserts, rev.edit.deletes, rev.deletesFromUnion, rev.unionStrLen
			if !gcDels.IsEmpty() {
				inserts = rev.edit.inserts.TransformShrink(gcDels, rev.unionStrLen)
				deletes = rev.edit.deletes.TransformShrink(gcDels, rev.unionStrLen)
				deletesFromUnion = rev.deletesFromUnion.TransformShrink(gcDels, rev.unionStrLen)
				unionStrLen = gcDels.LenAfterDelete(rev.unionStrLen)
			}
			e.revs = append(e.revs, revision{
				revID:            rev.revID,
				deletesFromUnion: deletesFromUnion,
				unionStrLen:      unionStrLen,
				edit: revisionContents{
					priority:  rev.edit.priority,
					undoGroup: rev.edit.undoGroup,
					inserts:   inserts,
					deletes:   deletes,
				},
			})
		}
		if hasNewGCDels {
			gcDels = newGCDels
		}
	}
	for i, j := 0, len(e.revs)-1; i < j; i, j = i+1, j-1 {
		e.revs[i], e.revs[j] = e.revs[j], e.revs[i]
	}
}
