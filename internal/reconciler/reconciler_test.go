package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ticketboard/internal/remote"
	"github.com/kalambet/ticketboard/internal/ticket"
)

// fakeStore records calls and delegates to per-method hooks. A nil hook
// echoes the input back as the store's answer.
type fakeStore struct {
	mu    sync.Mutex
	calls map[string]int

	listFn   func(ctx context.Context) ([]ticket.Ticket, error)
	createFn func(ctx context.Context, f ticket.Fields) (ticket.Ticket, error)
	updateFn func(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error)
	deleteFn func(ctx context.Context, id string) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(map[string]int)}
}

func (f *fakeStore) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

func (f *fakeStore) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeStore) List(ctx context.Context) ([]ticket.Ticket, error) {
	f.record("list")
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return []ticket.Ticket{}, nil
}

func (f *fakeStore) Create(ctx context.Context, fields ticket.Fields) (ticket.Ticket, error) {
	f.record("create")
	if f.createFn != nil {
		return f.createFn(ctx, fields)
	}
	return ticket.Ticket{ID: "new"}.WithFields(fields), nil
}

func (f *fakeStore) Update(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	f.record("update")
	if f.updateFn != nil {
		return f.updateFn(ctx, t)
	}
	return t, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.record("delete")
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

var ctx = context.Background()

func seeded(t *testing.T, store *fakeStore, tickets ...ticket.Ticket) *Reconciler {
	t.Helper()
	store.listFn = func(context.Context) ([]ticket.Ticket, error) { return tickets, nil }
	r := New(store, nil)
	if _, err := r.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	store.listFn = nil
	store.calls = make(map[string]int)
	return r
}

func tk(id string, status ticket.Status) ticket.Ticket {
	return ticket.Ticket{
		ID:          id,
		Title:       "ticket " + id,
		Description: "desc",
		Priority:    ticket.PriorityMedium,
		Status:      status,
		Assignee:    "ops",
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func mustGet(t *testing.T, r *Reconciler, id string) ticket.Ticket {
	t.Helper()
	got, ok := r.Get(id)
	if !ok {
		t.Fatalf("ticket %s missing from local state", id)
	}
	return got
}

// --- load ---

func TestLoad_ReplacesCollection(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("old", ticket.StatusPending))

	store.listFn = func(context.Context) ([]ticket.Ticket, error) {
		return []ticket.Ticket{tk("a", ticket.StatusDone), tk("b", ticket.StatusPending)}, nil
	}
	got, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Load = %+v, want [a b]", got)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("ticket from previous load survived")
	}
}

func TestLoad_FailureKeepsPrevious(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	cause := &remote.NetworkError{Method: "GET", Path: "/tickets", Err: errors.New("connection refused")}
	store.listFn = func(context.Context) ([]ticket.Ticket, error) { return nil, cause }

	_, err := r.Load(ctx)
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Op != OpLoad {
		t.Fatalf("error = %v, want OpError for load", err)
	}
	if !errors.Is(err, remote.ErrNetwork) {
		t.Errorf("errors.Is(err, ErrNetwork) = false for %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want previous collection of 1", r.Len())
	}
}

func TestLoad_EmptyIsValid(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	store.listFn = func(context.Context) ([]ticket.Ticket, error) { return []ticket.Ticket{}, nil }
	got, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 || r.Len() != 0 {
		t.Errorf("expected empty collection, got %+v", got)
	}
}

// --- create ---

func TestCreate_AppendsServerTicket(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.createFn = func(_ context.Context, f ticket.Fields) (ticket.Ticket, error) {
		out := ticket.Ticket{ID: "srv-9", CreatedAt: created}.WithFields(f)
		return out, nil
	}

	got, err := r.Create(ctx, tk("", ticket.StatusPending).Fields())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.ID != "srv-9" || !got.CreatedAt.Equal(created) {
		t.Errorf("Create = %+v, want server id and createdAt", got)
	}

	snap := r.Snapshot()
	if len(snap) != 2 || snap[1].ID != "srv-9" {
		t.Errorf("Snapshot = %+v, want new ticket appended last", snap)
	}
}

func TestCreate_FailureInsertsNothing(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	store.createFn = func(context.Context, ticket.Fields) (ticket.Ticket, error) {
		return ticket.Ticket{}, &remote.RejectedError{StatusCode: 400, Message: "title is required"}
	}

	_, err := r.Create(ctx, ticket.Fields{})
	if !errors.Is(err, remote.ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1 (no placeholder)", r.Len())
	}
}

// --- move ---

func TestMove_SameStatusIsNoop(t *testing.T) {
	for _, st := range ticket.Statuses {
		t.Run(string(st), func(t *testing.T) {
			store := newFakeStore()
			r := seeded(t, store, tk("1", st))
			before := r.Snapshot()

			got, err := r.Move(ctx, "1", st)
			if err != nil {
				t.Fatalf("Move: %v", err)
			}
			if got.Status != st {
				t.Errorf("Move returned status %q, want %q", got.Status, st)
			}
			if n := store.total(); n != 0 {
				t.Errorf("store saw %d calls, want 0", n)
			}
			after := r.Snapshot()
			if len(after) != len(before) || after[0] != before[0] {
				t.Errorf("local state changed: %+v -> %+v", before, after)
			}
		})
	}
}

func TestMove_SuccessTakesCanonicalTicket(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	store.updateFn = func(_ context.Context, in ticket.Ticket) (ticket.Ticket, error) {
		out := in
		out.Title = "normalised by server"
		out.Priority = ticket.PriorityHigh
		return out, nil
	}

	got, err := r.Move(ctx, "1", ticket.StatusDone)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	local := mustGet(t, r, "1")
	if local != got {
		t.Errorf("local = %+v, want server answer %+v", local, got)
	}
	if local.Title != "normalised by server" || local.Priority != ticket.PriorityHigh {
		t.Errorf("local ticket kept optimistic guess: %+v", local)
	}
	if local.Status != ticket.StatusDone {
		t.Errorf("Status = %q, want done", local.Status)
	}
}

func TestMove_SendsFullTicket(t *testing.T) {
	store := newFakeStore()
	orig := tk("1", ticket.StatusPending)
	r := seeded(t, store, orig)

	var sent ticket.Ticket
	store.updateFn = func(_ context.Context, in ticket.Ticket) (ticket.Ticket, error) {
		sent = in
		return in, nil
	}
	if _, err := r.Move(ctx, "1", ticket.StatusInTesting); err != nil {
		t.Fatalf("Move: %v", err)
	}

	want := orig
	want.Status = ticket.StatusInTesting
	if sent != want {
		t.Errorf("update body = %+v, want %+v", sent, want)
	}
}

func TestMove_FailureRollsBack(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	var events []Event
	r.notify = NotifierFunc(func(e Event) { events = append(events, e) })
	store.updateFn = func(context.Context, ticket.Ticket) (ticket.Ticket, error) {
		return ticket.Ticket{}, &remote.RejectedError{StatusCode: 500}
	}

	_, err := r.Move(ctx, "1", ticket.StatusDone)
	if err == nil {
		t.Fatal("expected error")
	}
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Op != OpMove || opErr.TicketID != "1" {
		t.Errorf("error = %v, want OpError{move ticket, 1}", err)
	}
	if got := mustGet(t, r, "1").Status; got != ticket.StatusPending {
		t.Errorf("Status = %q, want pending after rollback", got)
	}
	if len(events) != 1 || !events[0].Reverted || events[0].Err == nil {
		t.Errorf("events = %+v, want one reverted failure", events)
	}
}

func TestMove_UnknownTicket(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	_, err := r.Move(ctx, "nope", ticket.StatusDone)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if store.total() != 0 {
		t.Errorf("store saw %d calls, want 0", store.total())
	}
}

func TestMove_OptimisticStateVisibleWhileInFlight(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	started := make(chan struct{})
	release := make(chan struct{})
	store.updateFn = func(_ context.Context, in ticket.Ticket) (ticket.Ticket, error) {
		close(started)
		<-release
		return ticket.Ticket{}, errors.New("network down")
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.Move(ctx, "1", ticket.StatusInProgress)
		done <- err
	}()

	<-started
	if got := mustGet(t, r, "1").Status; got != ticket.StatusInProgress {
		t.Errorf("in-flight Status = %q, want optimistic in_progress", got)
	}
	close(release)
	if err := <-done; err == nil {
		t.Fatal("expected move error")
	}
	if got := mustGet(t, r, "1").Status; got != ticket.StatusPending {
		t.Errorf("Status = %q, want pending after rollback", got)
	}
}

// gatedUpdates blocks each Update on the gate registered for its target
// status and announces that the request has been sent.
type gatedUpdates struct {
	sent  map[ticket.Status]chan struct{}
	gates map[ticket.Status]chan error
}

func newGatedUpdates(statuses ...ticket.Status) *gatedUpdates {
	g := &gatedUpdates{
		sent:  make(map[ticket.Status]chan struct{}),
		gates: make(map[ticket.Status]chan error),
	}
	for _, s := range statuses {
		g.sent[s] = make(chan struct{})
		g.gates[s] = make(chan error, 1)
	}
	return g
}

func (g *gatedUpdates) update(_ context.Context, in ticket.Ticket) (ticket.Ticket, error) {
	close(g.sent[in.Status])
	if err := <-g.gates[in.Status]; err != nil {
		return ticket.Ticket{}, err
	}
	return in, nil
}

func TestMove_StaleConfirmationDoesNotOverwrite(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	g := newGatedUpdates(ticket.StatusInProgress, ticket.StatusDone)
	store.updateFn = g.update

	var events []Event
	var evMu sync.Mutex
	r.notify = NotifierFunc(func(e Event) {
		evMu.Lock()
		events = append(events, e)
		evMu.Unlock()
	})

	first := make(chan error, 1)
	go func() {
		_, err := r.Move(ctx, "1", ticket.StatusInProgress)
		first <- err
	}()
	<-g.sent[ticket.StatusInProgress]

	second := make(chan error, 1)
	go func() {
		_, err := r.Move(ctx, "1", ticket.StatusDone)
		second <- err
	}()
	<-g.sent[ticket.StatusDone]

	// The earlier move is confirmed after the later optimistic write.
	g.gates[ticket.StatusInProgress] <- nil
	if err := <-first; err != nil {
		t.Fatalf("first move: %v", err)
	}
	if got := mustGet(t, r, "1").Status; got != ticket.StatusDone {
		t.Fatalf("Status = %q after stale confirmation, want done", got)
	}

	g.gates[ticket.StatusDone] <- nil
	if err := <-second; err != nil {
		t.Fatalf("second move: %v", err)
	}
	if got := mustGet(t, r, "1").Status; got != ticket.StatusDone {
		t.Errorf("final Status = %q, want done", got)
	}

	evMu.Lock()
	defer evMu.Unlock()
	if len(events) != 2 || !events[0].Stale || events[1].Stale {
		t.Errorf("events = %+v, want stale first, fresh second", events)
	}
}

func TestMove_StaleFailureDoesNotRollBackNewerMove(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	g := newGatedUpdates(ticket.StatusInProgress, ticket.StatusDone)
	store.updateFn = g.update

	first := make(chan error, 1)
	go func() {
		_, err := r.Move(ctx, "1", ticket.StatusInProgress)
		first <- err
	}()
	<-g.sent[ticket.StatusInProgress]

	second := make(chan error, 1)
	go func() {
		_, err := r.Move(ctx, "1", ticket.StatusDone)
		second <- err
	}()
	<-g.sent[ticket.StatusDone]

	g.gates[ticket.StatusDone] <- nil
	if err := <-second; err != nil {
		t.Fatalf("second move: %v", err)
	}

	g.gates[ticket.StatusInProgress] <- errors.New("timeout")
	if err := <-first; err == nil {
		t.Fatal("first move: expected error")
	}
	if got := mustGet(t, r, "1").Status; got != ticket.StatusDone {
		t.Errorf("Status = %q, want done (stale failure must not revert)", got)
	}
}

// serialStore applies each update to its own copy in arrival order, as a
// store would, but holds every answer until the test releases it.
type serialStore struct {
	mu     sync.Mutex
	held   ticket.Ticket
	reject map[string]bool
	sent   map[string]chan struct{}
	gates  map[string]chan struct{}
}

// requestKey names a request by what it carries: edits in these tests
// always set the title to "edited", moves keep the seeded title.
func requestKey(in ticket.Ticket) string {
	if in.Title == "edited" {
		return "edit"
	}
	return "move:" + string(in.Status)
}

func newSerialStore(seed ticket.Ticket, reject map[string]bool, keys ...string) *serialStore {
	s := &serialStore{
		held:   seed,
		reject: reject,
		sent:   make(map[string]chan struct{}),
		gates:  make(map[string]chan struct{}),
	}
	for _, k := range keys {
		s.sent[k] = make(chan struct{})
		s.gates[k] = make(chan struct{})
	}
	return s
}

func (s *serialStore) update(_ context.Context, in ticket.Ticket) (ticket.Ticket, error) {
	k := requestKey(in)
	s.mu.Lock()
	if !s.reject[k] {
		s.held = in
	}
	s.mu.Unlock()

	close(s.sent[k])
	<-s.gates[k]
	if s.reject[k] {
		return ticket.Ticket{}, &remote.RejectedError{StatusCode: 409}
	}
	return in, nil
}

func (s *serialStore) current() ticket.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

func moveOp(status ticket.Status) func(r *Reconciler) func() error {
	return func(r *Reconciler) func() error {
		return func() error {
			_, err := r.Move(ctx, "1", status)
			return err
		}
	}
}

// editOp captures the ticket as it is shown when the edit is issued.
func editOp(r *Reconciler) func() error {
	edited, _ := r.Get("1")
	edited.Title = "edited"
	return func() error {
		_, err := r.Edit(ctx, edited)
		return err
	}
}

func TestSameTicketInterleavings(t *testing.T) {
	type op struct {
		key   string
		issue func(r *Reconciler) func() error
	}
	moveDone := op{"move:" + string(ticket.StatusDone), moveOp(ticket.StatusDone)}
	moveInProgress := op{"move:" + string(ticket.StatusInProgress), moveOp(ticket.StatusInProgress)}
	edit := op{"edit", editOp}

	tests := []struct {
		name    string
		ops     [2]op
		reject  map[string]bool
		answers [2]string // order in which the store answers

		midTitle  string
		midStatus ticket.Status
		title     string
		status    ticket.Status
	}{
		{
			name:      "both moves rejected, older answered first",
			ops:       [2]op{moveDone, moveInProgress},
			reject:    map[string]bool{moveDone.key: true, moveInProgress.key: true},
			answers:   [2]string{moveDone.key, moveInProgress.key},
			midTitle:  "ticket 1",
			midStatus: ticket.StatusInProgress,
			title:     "ticket 1",
			status:    ticket.StatusPending,
		},
		{
			name:      "both moves rejected, newer answered first",
			ops:       [2]op{moveDone, moveInProgress},
			reject:    map[string]bool{moveDone.key: true, moveInProgress.key: true},
			answers:   [2]string{moveInProgress.key, moveDone.key},
			midTitle:  "ticket 1",
			midStatus: ticket.StatusPending,
			title:     "ticket 1",
			status:    ticket.StatusPending,
		},
		{
			name:      "both moves confirmed in reverse order",
			ops:       [2]op{moveDone, moveInProgress},
			answers:   [2]string{moveInProgress.key, moveDone.key},
			midTitle:  "ticket 1",
			midStatus: ticket.StatusInProgress,
			title:     "ticket 1",
			status:    ticket.StatusInProgress,
		},
		{
			name:      "move then edit, move answered first",
			ops:       [2]op{moveDone, edit},
			answers:   [2]string{moveDone.key, edit.key},
			midTitle:  "ticket 1",
			midStatus: ticket.StatusDone,
			title:     "edited",
			status:    ticket.StatusDone,
		},
		{
			name:      "move then edit, edit answered first",
			ops:       [2]op{moveDone, edit},
			answers:   [2]string{edit.key, moveDone.key},
			midTitle:  "edited",
			midStatus: ticket.StatusDone,
			title:     "edited",
			status:    ticket.StatusDone,
		},
		{
			name:      "edit then move, edit answered first",
			ops:       [2]op{edit, moveDone},
			answers:   [2]string{edit.key, moveDone.key},
			midTitle:  "edited",
			midStatus: ticket.StatusDone,
			title:     "ticket 1",
			status:    ticket.StatusDone,
		},
		{
			name:      "edit then move, move answered first",
			ops:       [2]op{edit, moveDone},
			answers:   [2]string{moveDone.key, edit.key},
			midTitle:  "ticket 1",
			midStatus: ticket.StatusDone,
			title:     "ticket 1",
			status:    ticket.StatusDone,
		},
		{
			name:      "edit then rejected move",
			ops:       [2]op{edit, moveDone},
			reject:    map[string]bool{moveDone.key: true},
			answers:   [2]string{edit.key, moveDone.key},
			midTitle:  "edited",
			midStatus: ticket.StatusDone,
			title:     "edited",
			status:    ticket.StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := tk("1", ticket.StatusPending)
			store := newFakeStore()
			r := seeded(t, store, seed)

			s := newSerialStore(seed, tt.reject, tt.ops[0].key, tt.ops[1].key)
			store.updateFn = s.update

			results := make(map[string]chan error)
			for _, o := range tt.ops {
				run := o.issue(r)
				res := make(chan error, 1)
				results[o.key] = res
				go func() { res <- run() }()
				<-s.sent[o.key]
			}

			for i, k := range tt.answers {
				close(s.gates[k])
				err := <-results[k]
				if tt.reject[k] != (err != nil) {
					t.Fatalf("%s: error = %v, rejected = %v", k, err, tt.reject[k])
				}
				got := mustGet(t, r, "1")
				if i == 0 && (got.Title != tt.midTitle || got.Status != tt.midStatus) {
					t.Errorf("after %s answered: local = %q/%s, want %q/%s",
						k, got.Title, got.Status, tt.midTitle, tt.midStatus)
				}
			}

			got := mustGet(t, r, "1")
			if got.Title != tt.title || got.Status != tt.status {
				t.Errorf("local = %q/%s, want %q/%s", got.Title, got.Status, tt.title, tt.status)
			}
			held := s.current()
			if got.Title != held.Title || got.Status != held.Status {
				t.Errorf("local = %q/%s, store holds %q/%s", got.Title, got.Status, held.Title, held.Status)
			}
		})
	}
}

func TestMove_TicketDeletedWhileInFlight(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	g := newGatedUpdates(ticket.StatusDone)
	store.updateFn = g.update

	moved := make(chan error, 1)
	go func() {
		_, err := r.Move(ctx, "1", ticket.StatusDone)
		moved <- err
	}()
	<-g.sent[ticket.StatusDone]

	if err := r.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	g.gates[ticket.StatusDone] <- nil
	if err := <-moved; err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, ok := r.Get("1"); ok {
		t.Error("move confirmation resurrected a deleted ticket")
	}
}

func TestMove_ConcurrentDifferentTickets(t *testing.T) {
	orders := []struct {
		name  string
		first ticket.Status
	}{
		{"1 completes first", ticket.StatusDone},
		{"2 completes first", ticket.StatusInProgress},
	}
	for _, o := range orders {
		t.Run(o.name, func(t *testing.T) {
			store := newFakeStore()
			r := seeded(t, store, tk("1", ticket.StatusPending), tk("2", ticket.StatusPending))

			g := newGatedUpdates(ticket.StatusDone, ticket.StatusInProgress)
			store.updateFn = g.update

			var eg errgroup.Group
			eg.Go(func() error {
				_, err := r.Move(ctx, "1", ticket.StatusDone)
				return err
			})
			eg.Go(func() error {
				_, err := r.Move(ctx, "2", ticket.StatusInProgress)
				return err
			})

			<-g.sent[ticket.StatusDone]
			<-g.sent[ticket.StatusInProgress]
			second := ticket.StatusInProgress
			if o.first == ticket.StatusInProgress {
				second = ticket.StatusDone
			}
			g.gates[o.first] <- nil
			g.gates[second] <- nil

			if err := eg.Wait(); err != nil {
				t.Fatalf("moves: %v", err)
			}
			if got := mustGet(t, r, "1").Status; got != ticket.StatusDone {
				t.Errorf("ticket 1 = %q, want done", got)
			}
			if got := mustGet(t, r, "2").Status; got != ticket.StatusInProgress {
				t.Errorf("ticket 2 = %q, want in_progress", got)
			}
		})
	}
}

// --- edit ---

func TestEdit_ReplacesWithServerAnswer(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	store.updateFn = func(_ context.Context, in ticket.Ticket) (ticket.Ticket, error) {
		in.Assignee = "server-assigned"
		return in, nil
	}

	edited := mustGet(t, r, "1")
	edited.Title = "new title"
	if _, err := r.Edit(ctx, edited); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	got := mustGet(t, r, "1")
	if got.Title != "new title" || got.Assignee != "server-assigned" {
		t.Errorf("local = %+v, want server answer", got)
	}
}

func TestEdit_NotOptimistic(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	started := make(chan struct{})
	release := make(chan struct{})
	store.updateFn = func(context.Context, ticket.Ticket) (ticket.Ticket, error) {
		close(started)
		<-release
		return ticket.Ticket{}, &remote.RejectedError{StatusCode: 422}
	}

	edited := mustGet(t, r, "1")
	edited.Title = "changed"
	done := make(chan error, 1)
	go func() {
		_, err := r.Edit(ctx, edited)
		done <- err
	}()

	<-started
	if got := mustGet(t, r, "1").Title; got != "ticket 1" {
		t.Errorf("in-flight Title = %q, edit must not apply before confirmation", got)
	}
	close(release)
	if err := <-done; !errors.Is(err, remote.ErrRejected) {
		t.Fatalf("Edit error = %v, want ErrRejected", err)
	}
	if got := mustGet(t, r, "1").Title; got != "ticket 1" {
		t.Errorf("Title = %q after failed edit, want unchanged", got)
	}
}

func TestEdit_UnknownTicket(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store)

	_, err := r.Edit(ctx, tk("ghost", ticket.StatusPending))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if store.total() != 0 {
		t.Errorf("store saw %d calls, want 0", store.total())
	}
}

// --- delete ---

func TestDelete_RemovesOnSuccess(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending), tk("2", ticket.StatusDone), tk("3", ticket.StatusDone))

	if err := r.Delete(ctx, "2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].ID != "1" || snap[1].ID != "3" {
		t.Errorf("Snapshot = %+v, want [1 3]", snap)
	}
	if store.count("delete") != 1 {
		t.Errorf("delete calls = %d, want 1", store.count("delete"))
	}
}

func TestDelete_UnknownTicket(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	err := r.Delete(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if store.total() != 0 {
		t.Errorf("store saw %d calls, want 0", store.total())
	}
}

func TestDelete_FailureKeepsTicket(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	store.deleteFn = func(context.Context, string) error {
		return &remote.NetworkError{Method: "DELETE", Path: "/tickets/1", Err: errors.New("reset")}
	}

	err := r.Delete(ctx, "1")
	if !errors.Is(err, remote.ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
	if _, ok := r.Get("1"); !ok {
		t.Error("ticket removed despite failed delete")
	}
}

// --- notifications ---

func TestNotifier_NamesFailedAction(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusPending))

	var got []Event
	r.notify = NotifierFunc(func(e Event) { got = append(got, e) })
	store.deleteFn = func(context.Context, string) error { return errors.New("boom") }

	r.Delete(ctx, "1")

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Op != OpDelete || got[0].TicketID != "1" || got[0].Err == nil {
		t.Errorf("event = %+v", got[0])
	}
	if want := "delete ticket 1: boom"; got[0].Err.Error() != want {
		t.Errorf("error text = %q, want %q", got[0].Err.Error(), want)
	}
}

func TestColumns(t *testing.T) {
	store := newFakeStore()
	r := seeded(t, store, tk("1", ticket.StatusDone), tk("2", ticket.StatusPending))

	cols := r.Columns()
	if len(cols) != len(ticket.Statuses) {
		t.Fatalf("got %d columns", len(cols))
	}
	if len(cols[0].Tickets) != 1 || cols[0].Tickets[0].ID != "2" {
		t.Errorf("pending column = %+v", cols[0].Tickets)
	}
}
