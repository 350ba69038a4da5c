// Package session manages connected WebSocket clients, the per-document
// revision engine, and message routing between the two.
package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/polqt/xicrdt/crdt"
	"github.com/polqt/xicrdt/rope"
)

// Message is the wire envelope for every request and response this server
// exchanges with a client.
type Message struct {
	DocID    string          `json:"doc_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"sender_id"`
	Ts       time.Time       `json:"ts"`
}

const (
	MsgEdit     = "edit"
	MsgUndo     = "undo"
	MsgGC       = "gc"
	MsgSnapshot = "snapshot"
	MsgDelta    = "delta"
	MsgError    = "error"
)

// EditPayload submits one edit, built client-side as a base/delete/insert
// triple over the document text as the sender last saw it (base_rev).
type EditPayload struct {
	BaseRev   int    `json:"base_rev"`
	UndoGroup int    `json:"undo_group"`
	Beg       int    `json:"beg"`
	End       int    `json:"end"`
	Text      string `json:"text"`
}

// UndoPayload sets which undo groups are undone.
type UndoPayload struct {
	Groups []int `json:"groups"`
}

// GCPayload requests history compaction for a set of already-undone groups.
type GCPayload struct {
	Groups []int `json:"groups"`
}

// SnapshotPayload carries the full current text and head revision, sent to
// a session on join or whenever its base_rev has fallen out of history.
type SnapshotPayload struct {
	Text   string `json:"text"`
	RevID  int    `json:"rev_id"`
	Reason string `json:"reason,omitempty"`
}

// DeltaPayload carries a rebased Delta as an ordered op list so a peer can
// fast-forward its view instead of re-fetching a snapshot. DirtyRanges is
// the coalesced set of byte ranges that changed across every edit the peer
// missed since its last delivery, for redraw invalidation independent of
// the Ops themselves.
type DeltaPayload struct {
	BaseRev     int          `json:"base_rev"`
	NewRev      int          `json:"new_rev"`
	Ops         []crdt.Op    `json:"ops"`
	DirtyRanges []crdt.Range `json:"dirty_ranges,omitempty"`
}

// Sender is implemented by the transport layer so a Session can push
// messages without this package depending on the transport package.
type Sender interface {
	Send(msg Message) error
	Close() error
	RemoteAddr() string
}

// Session represents one connected client editing a document.
type Session struct {
	ID        string
	DocID     string
	Priority  int
	UndoGroup int
	sender    Sender
	hub       *Hub
}

// NewSession creates a session with the given transport sender. Priority is
// assigned once the session joins a Document; UndoGroup is left at zero.
func NewSession(id, docID string, sender Sender, hub *Hub) *Session {
	return &Session{ID: id, DocID: docID, sender: sender, hub: hub}
}

// Push sends a message to this client.
func (s *Session) Push(msg Message) error {
	return s.sender.Send(msg)
}

// Document holds one collaboratively edited text: the revision engine, the
// sessions currently connected to it, and each session's accumulated
// dirty-range set since its last acknowledged view.
type Document struct {
	mu       sync.Mutex
	ID       string
	engine   *crdt.Engine
	sessions map[string]*Session
	dirty    map[string]*crdt.IndexSet
	nextPrio int
}

// NewDocument creates a document seeded with initialText.
func NewDocument(id, initialText string) *Document {
	return &Document{
		ID:       id,
		engine:   crdt.NewEngine(rope.Of(initialText)),
		sessions: make(map[string]*Session),
		dirty:    make(map[string]*crdt.IndexSet),
	}
}

// Text returns the current head text.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine.GetHead().String()
}

// join registers sess, assigns it a priority unique among this document's
// submitters, and returns the current head text and revision id to send as
// a snapshot.
func (d *Document) join(sess *Session) (text string, revID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextPrio++
	sess.Priority = d.nextPrio
	d.sessions[sess.ID] = sess
	d.dirty[sess.ID] = &crdt.IndexSet{}
	return d.engine.GetHead().String(), d.engine.GetHeadRevID()
}

// leave removes sess from the document.
func (d *Document) leave(sess *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sess.ID)
	delete(d.dirty, sess.ID)
}

// apply submits one edit against the document, panicking exactly when
// crdt.Engine.EditRev does (an unknown base_rev): a stale client, caught by
// the caller, not a programmer error inside this process.
func (d *Document) apply(sess *Session, p EditPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var delta crdt.Delta
	if p.Text != "" {
		delta = crdt.SimpleEdit(crdt.Interval{Start: p.Beg, End: p.End}, rope.Of(p.Text), lenAt(d.engine, p.BaseRev))
	} else {
		var b crdt.Builder
		b.Init(lenAt(d.engine, p.BaseRev))
		b.Delete(p.Beg, p.End)
		delta = b.Build()
	}
	d.engine.EditRev(sess.Priority, p.UndoGroup, p.BaseRev, delta)
	for id := range d.dirty {
		if id == sess.ID {
			continue
		}
		d.dirty[id].UnionOneRange(p.Beg, p.End)
	}
}

// drainDirty returns sess's accumulated dirty ranges within [0, total) as
// one coalesced span per contiguous edited region, then clears them. The
// ranges actually covered by the IndexSet are read out by complementing
// its MinusOneRange gaps a second time, since IndexSet only exposes what's
// NOT covered.
func (d *Document) drainDirty(sessID string, total int) []crdt.Range {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, ok := d.dirty[sessID]
	if !ok {
		return nil
	}
	var covered []crdt.Range
	pos := 0
	it := idx.MinusOneRange(0, total)
	for {
		gap, ok := it.Next()
		if !ok {
			break
		}
		if gap.Start > pos {
			covered = append(covered, crdt.Range{Start: pos, End: gap.Start})
		}
		pos = gap.End
	}
	if pos < total {
		covered = append(covered, crdt.Range{Start: pos, End: total})
	}
	idx.Clear()
	return covered
}

// lenAt returns the length of the document's content as of rev, for
// building a Delta whose BaseLen matches what the submitter actually saw.
func lenAt(e *crdt.Engine, rev int) int {
	text, ok := e.GetRev(rev)
	if !ok {
		panic("crdt: base revision not found")
	}
	return text.Len()
}

// deltaFor returns the Delta rebasing rev onto the current head, and the
// current head revision id.
func (d *Document) deltaFor(rev int) (crdt.Delta, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine.DeltaRevHead(rev), d.engine.GetHeadRevID()
}

// undo makes groups the set of undone groups and returns the resulting head
// text and revision id.
func (d *Document) undo(groups map[int]struct{}) (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engine.Undo(groups)
	return d.engine.GetHead().String(), d.engine.GetHeadRevID()
}

// gc compacts history for groups and returns the resulting head text and
// revision id.
func (d *Document) gc(groups map[int]struct{}) (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engine.GC(groups)
	return d.engine.GetHead().String(), d.engine.GetHeadRevID()
}

func (d *Document) snapshot(reason string) []byte {
	d.mu.Lock()
	text, rev := d.engine.GetHead().String(), d.engine.GetHeadRevID()
	d.mu.Unlock()
	b, _ := json.Marshal(SnapshotPayload{Text: text, RevID: rev, Reason: reason})
	return b
}

func (d *Document) each(exclude string, fn func(*Session)) {
	d.mu.Lock()
	sessions := make([]*Session, 0, len(d.sessions))
	for id, s := range d.sessions {
		if id == exclude {
			continue
		}
		sessions = append(sessions, s)
	}
	d.mu.Unlock()
	for _, s := range sessions {
		fn(s)
	}
}

// Hub is the central registry of documents and the message router between
// connected sessions and each document's Engine.
type Hub struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{docs: make(map[string]*Document)}
}

// Run is a placeholder for background maintenance; call as a goroutine.
func (h *Hub) Run() {
	// TODO: periodically GC undone groups once all sessions on a document
	// have acknowledged past them, and evict documents with zero sessions.
}

// GetOrCreate returns the document with the given id, creating it (with
// empty initial text) if it doesn't exist yet.
func (h *Hub) GetOrCreate(docID string) *Document {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.docs[docID]; ok {
		return d
	}
	d := NewDocument(docID, "")
	h.docs[docID] = d
	return d
}

// Join registers sess with its document and pushes it the current snapshot.
func (h *Hub) Join(sess *Session) {
	doc := h.GetOrCreate(sess.DocID)
	text, rev := doc.join(sess)
	snap, _ := json.Marshal(SnapshotPayload{Text: text, RevID: rev})
	_ = sess.Push(Message{DocID: sess.DocID, Type: MsgSnapshot, Payload: snap, Ts: time.Now()})
}

// Leave removes sess from its document.
func (h *Hub) Leave(sess *Session) {
	doc := h.GetOrCreate(sess.DocID)
	doc.leave(sess)
	slog.Info("session left", "session", sess.ID, "doc", sess.DocID)
}

// Dispatch decodes and routes one incoming message from sess.
func (h *Hub) Dispatch(sess *Session, msg Message) {
	doc := h.GetOrCreate(msg.DocID)

	switch msg.Type {
	case MsgEdit:
		h.dispatchEdit(doc, sess, msg)
	case MsgUndo:
		var p UndoPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			slog.Warn("bad undo payload", "err", err)
			return
		}
		text, rev := doc.undo(groupSet(p.Groups))
		h.broadcastSnapshot(doc, text, rev)
	case MsgGC:
		var p GCPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			slog.Warn("bad gc payload", "err", err)
			return
		}
		text, rev := doc.gc(groupSet(p.Groups))
		h.broadcastSnapshot(doc, text, rev)
	default:
		slog.Warn("unknown message type", "type", msg.Type)
	}
}

// dispatchEdit applies one edit and broadcasts a rebased DeltaPayload to
// every other session on the document, recovering a stale-base_rev panic
// into a fresh snapshot for the sender instead of letting it escape into
// the read loop that called Dispatch.
func (h *Hub) dispatchEdit(doc *Document, sess *Session, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("stale edit, resyncing sender", "session", sess.ID, "doc", doc.ID, "err", r)
			_ = sess.Push(Message{
				DocID:   doc.ID,
				Type:    MsgSnapshot,
				Payload: doc.snapshot("stale base_rev"),
				Ts:      time.Now(),
			})
		}
	}()

	var p EditPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		slog.Warn("bad edit payload", "err", err)
		return
	}
	doc.apply(sess, p)

	doc.each(sess.ID, func(peer *Session) {
		delta, headRev := doc.deltaFor(p.BaseRev)
		dirty := doc.drainDirty(peer.ID, delta.NewDocumentLen())
		payload, _ := json.Marshal(DeltaPayload{BaseRev: p.BaseRev, NewRev: headRev, Ops: delta.Ops(), DirtyRanges: dirty})
		_ = peer.Push(Message{DocID: doc.ID, Type: MsgDelta, Payload: payload, Ts: time.Now()})
	})
}

// broadcastSnapshot pushes the document's current text/revision to every
// connected session: undo and GC change the head for everyone, not just
// whichever session requested them.
func (h *Hub) broadcastSnapshot(doc *Document, text string, rev int) {
	payload, _ := json.Marshal(SnapshotPayload{Text: text, RevID: rev})
	doc.each("", func(s *Session) {
		_ = s.Push(Message{DocID: doc.ID, Type: MsgSnapshot, Payload: payload, Ts: time.Now()})
	})
}

func groupSet(gs []int) map[int]struct{} {
	s := make(map[int]struct{}, len(gs))
	for _, g := range gs {
		s[g] = struct{}{}
	}
	return s
}
