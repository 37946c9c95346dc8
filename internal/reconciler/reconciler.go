// Package reconciler keeps a client-side ticket collection in step with a
// remote ticket store.
//
// Moves are optimistic: the new status is visible locally before the store
// answers, and is reverted if the store refuses it. Creates, edits and
// deletes only touch local state once the store confirms them.
//
// Each ticket keeps the last copy the store confirmed next to the copy
// callers see. The visible copy is always the confirmed one, with the status
// of the latest unanswered move laid over it. Every request is stamped with
// a sequence number when it is issued; a store answer replaces the confirmed
// copy only if no later-issued request has already been answered, so an
// older response never overwrites newer state. A rejected move falls back to
// the confirmed status, never to another move's unconfirmed one. Operations
// on different ids do not interact.
package reconciler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kalambet/ticketboard/internal/ticket"
)

// Store is the remote ticket store.
type Store interface {
	List(ctx context.Context) ([]ticket.Ticket, error)
	Create(ctx context.Context, f ticket.Fields) (ticket.Ticket, error)
	Update(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error)
	Delete(ctx context.Context, id string) error
}

// Event describes a completed operation.
type Event struct {
	Op       Op
	TicketID string
	Ticket   ticket.Ticket
	Err      error
	// Reverted is set when a failed move restored the last confirmed status.
	Reverted bool
	// Stale is set when the store answered but the answer is not what the
	// ticket now shows: a later request was answered first, a later move is
	// still in flight, or the ticket is gone.
	Stale bool
}

// Notifier receives one Event per completed operation. It is called
// without the reconciler's lock held.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

type entry struct {
	t ticket.Ticket

	confirmed    ticket.Ticket
	confirmedSeq uint64

	// pendingSeq is the move whose optimistic status t shows, 0 if none.
	pendingSeq    uint64
	pendingStatus ticket.Status
}

func newEntry(t ticket.Ticket, seq uint64) *entry {
	return &entry{t: t, confirmed: t, confirmedSeq: seq}
}

// confirm records a store answer to the request issued at seq. It reports
// false when a later-issued request has already been answered.
func (e *entry) confirm(t ticket.Ticket, seq uint64) bool {
	if seq <= e.confirmedSeq {
		return false
	}
	e.confirmed = t
	e.confirmedSeq = seq
	return true
}

func (e *entry) refresh() {
	e.t = e.confirmed
	if e.pendingSeq != 0 {
		e.t.Status = e.pendingStatus
	}
}

// Reconciler owns the local ticket collection. It is safe for concurrent
// use; its lock is never held across a call to the Store.
type Reconciler struct {
	store  Store
	notify Notifier
	logger *slog.Logger

	mu      sync.Mutex
	order   []string
	tickets map[string]*entry
	seq     uint64
}

// New creates an empty Reconciler backed by store. notify may be nil.
func New(store Store, notify Notifier) *Reconciler {
	return &Reconciler{
		store:   store,
		notify:  notify,
		logger:  slog.Default(),
		tickets: make(map[string]*entry),
	}
}

// Load replaces the local collection with the store's. On failure the
// previous collection is kept. Results of operations still in flight when
// Load completes are discarded.
func (r *Reconciler) Load(ctx context.Context) ([]ticket.Ticket, error) {
	tickets, err := r.store.List(ctx)
	if err != nil {
		return nil, r.fail(Event{Op: OpLoad, Err: err})
	}

	r.mu.Lock()
	r.order = r.order[:0]
	r.tickets = make(map[string]*entry, len(tickets))
	for _, t := range tickets {
		if _, dup := r.tickets[t.ID]; !dup {
			r.order = append(r.order, t.ID)
		}
		r.tickets[t.ID] = newEntry(t, r.nextSeq())
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug("tickets loaded", "count", len(snap))
	r.emit(Event{Op: OpLoad})
	return snap, nil
}

// Create asks the store to create a ticket and appends the stored result.
// Nothing is inserted locally unless the store confirms.
func (r *Reconciler) Create(ctx context.Context, f ticket.Fields) (ticket.Ticket, error) {
	created, err := r.store.Create(ctx, f)
	if err != nil {
		return ticket.Ticket{}, r.fail(Event{Op: OpCreate, Err: err})
	}

	r.mu.Lock()
	if e, ok := r.tickets[created.ID]; ok {
		// A concurrent Load already picked it up.
		e.confirm(created, r.nextSeq())
		e.refresh()
	} else {
		r.order = append(r.order, created.ID)
		r.tickets[created.ID] = newEntry(created, r.nextSeq())
	}
	r.mu.Unlock()

	r.emit(Event{Op: OpCreate, TicketID: created.ID, Ticket: created})
	return created, nil
}

// Move sets a ticket's status. The new status is written locally before
// the store is asked; on success the local ticket becomes the store's
// canonical copy, on failure the last confirmed status is restored. Moving
// a ticket to the status it already has sends nothing.
func (r *Reconciler) Move(ctx context.Context, id string, status ticket.Status) (ticket.Ticket, error) {
	r.mu.Lock()
	e, ok := r.tickets[id]
	if !ok {
		r.mu.Unlock()
		return ticket.Ticket{}, r.fail(Event{Op: OpMove, TicketID: id, Err: ErrNotFound})
	}
	if e.t.Status == status {
		cur := e.t
		r.mu.Unlock()
		return cur, nil
	}
	prev := e.t.Status
	seq := r.nextSeq()
	e.pendingSeq = seq
	e.pendingStatus = status
	e.refresh()
	req := e.t
	r.mu.Unlock()

	r.logger.Debug("optimistic move", "ticket_id", id, "from", prev, "to", status)

	updated, err := r.store.Update(ctx, req)

	r.mu.Lock()
	var applied, reverted bool
	var shown ticket.Status
	if e, ok = r.tickets[id]; ok {
		owned := e.pendingSeq == seq
		if owned {
			e.pendingSeq = 0
		}
		if err == nil {
			applied = e.confirm(updated, seq) && e.pendingSeq == 0
		} else {
			reverted = owned
		}
		e.refresh()
		shown = e.t.Status
	}
	r.mu.Unlock()

	if err != nil {
		if reverted {
			r.logger.Warn("move rejected, status reverted", "ticket_id", id, "status", shown, "error", err)
		}
		return ticket.Ticket{}, r.fail(Event{Op: OpMove, TicketID: id, Err: err, Reverted: reverted})
	}
	if !applied {
		r.logger.Debug("stale move result", "ticket_id", id, "shown", shown)
	}
	r.emit(Event{Op: OpMove, TicketID: id, Ticket: updated, Stale: !applied})
	return updated, nil
}

// Edit sends the full ticket to the store and, once confirmed, replaces the
// local copy with the store's answer. Local state is not touched before
// then. If a move issued after the edit is still unanswered, its status
// stays visible over the edited fields.
func (r *Reconciler) Edit(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	r.mu.Lock()
	if _, ok := r.tickets[t.ID]; !ok {
		r.mu.Unlock()
		return ticket.Ticket{}, r.fail(Event{Op: OpEdit, TicketID: t.ID, Err: ErrNotFound})
	}
	seq := r.nextSeq()
	r.mu.Unlock()

	updated, err := r.store.Update(ctx, t)
	if err != nil {
		return ticket.Ticket{}, r.fail(Event{Op: OpEdit, TicketID: t.ID, Err: err})
	}

	r.mu.Lock()
	applied := false
	if e, ok := r.tickets[t.ID]; ok {
		applied = e.confirm(updated, seq)
		e.refresh()
	}
	r.mu.Unlock()

	if !applied {
		r.logger.Debug("discarding stale edit result", "ticket_id", t.ID)
	}
	r.emit(Event{Op: OpEdit, TicketID: t.ID, Ticket: updated, Stale: !applied})
	return updated, nil
}

// Delete removes a ticket from the store and, once confirmed, from the
// local collection.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.tickets[id]
	r.mu.Unlock()
	if !ok {
		return r.fail(Event{Op: OpDelete, TicketID: id, Err: ErrNotFound})
	}

	if err := r.store.Delete(ctx, id); err != nil {
		return r.fail(Event{Op: OpDelete, TicketID: id, Err: err})
	}

	r.mu.Lock()
	r.removeLocked(id)
	r.mu.Unlock()

	r.emit(Event{Op: OpDelete, TicketID: id})
	return nil
}

// Snapshot returns a copy of the collection in load/creation order.
func (r *Reconciler) Snapshot() []ticket.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Columns returns the collection grouped into board columns.
func (r *Reconciler) Columns() []ticket.Column {
	return ticket.GroupByStatus(r.Snapshot())
}

func (r *Reconciler) Get(id string) (ticket.Ticket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tickets[id]
	if !ok {
		return ticket.Ticket{}, false
	}
	return e.t, true
}

func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

func (r *Reconciler) nextSeq() uint64 {
	r.seq++
	return r.seq
}

func (r *Reconciler) snapshotLocked() []ticket.Ticket {
	out := make([]ticket.Ticket, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tickets[id].t)
	}
	return out
}

func (r *Reconciler) removeLocked(id string) {
	if _, ok := r.tickets[id]; !ok {
		return
	}
	delete(r.tickets, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Reconciler) fail(ev Event) error {
	ev.Err = &OpError{Op: ev.Op, TicketID: ev.TicketID, Err: ev.Err}
	r.emit(ev)
	return ev.Err
}

func (r *Reconciler) emit(ev Event) {
	if r.notify != nil {
		r.notify.Notify(ev)
	}
}
