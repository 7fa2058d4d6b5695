package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

// memStore is an in-memory LocalStore with the same ordering and ledger
// semantics as the SQLite store.
type memStore struct {
	mu       sync.Mutex
	cache    map[string]domain.CacheRecord
	gens     map[string]int64
	queue    map[string]domain.PendingMutation
	applied  map[string]bool
	seq      int64
	applyLog []string

	enqueueErr error
}

func newMemStore() *memStore {
	return &memStore{
		cache:   make(map[string]domain.CacheRecord),
		gens:    make(map[string]int64),
		queue:   make(map[string]domain.PendingMutation),
		applied: make(map[string]bool),
	}
}

var _ ports.LocalStore = (*memStore)(nil)

func (s *memStore) GetCache(_ context.Context, rt domain.ResourceType, id string) (domain.CacheRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cache[domain.QueueKey(rt, id)]
	if !ok {
		return domain.CacheRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) PutCache(_ context.Context, rec domain.CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.QueueKey(rec.ResourceType, rec.ResourceID)
	if s.gens[key] > rec.Generation {
		return nil
	}
	if cur, ok := s.cache[key]; ok && cur.FetchedAt.After(rec.FetchedAt) {
		return nil
	}
	s.cache[key] = rec
	return nil
}

func (s *memStore) InvalidateCache(_ context.Context, rt domain.ResourceType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[domain.QueueKey(rt, id)]++
	delete(s.cache, domain.QueueKey(rt, id))
	return nil
}

func (s *memStore) CacheGeneration(_ context.Context, rt domain.ResourceType, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[domain.QueueKey(rt, id)], nil
}

func (s *memStore) Enqueue(_ context.Context, m domain.PendingMutation) (domain.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return domain.PendingMutation{}, s.enqueueErr
	}
	s.seq++
	m.Seq = s.seq
	if m.Status == "" {
		m.Status = domain.MutationPending
	}
	s.queue[m.ID] = m
	return m, nil
}

func (s *memStore) sorted(match func(domain.PendingMutation) bool) []domain.PendingMutation {
	out := make([]domain.PendingMutation, 0, len(s.queue))
	for _, m := range s.queue {
		if match(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *memStore) ListPending(_ context.Context, rt domain.ResourceType) ([]domain.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(m domain.PendingMutation) bool {
		active := m.Status == domain.MutationPending || m.Status == domain.MutationInFlight
		return active && (rt == "" || m.ResourceType == rt)
	}), nil
}

func (s *memStore) ListFailed(context.Context) ([]domain.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(m domain.PendingMutation) bool { return m.Status == domain.MutationFailed }), nil
}

func (s *memStore) GetMutation(_ context.Context, id string) (domain.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.queue[id]
	if !ok {
		return domain.PendingMutation{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memStore) CountPending(ctx context.Context) (int, error) {
	pending, err := s.ListPending(ctx, "")
	return len(pending), err
}

func (s *memStore) HasPending(ctx context.Context, rt domain.ResourceType, id string) (bool, error) {
	pending, err := s.ListPending(ctx, rt)
	if err != nil {
		return false, err
	}
	for _, m := range pending {
		if m.ResourceID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) MarkStatus(_ context.Context, id string, status domain.MutationStatus, attempts int, next time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.queue[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = status
	m.AttemptCount = attempts
	m.NextAttemptAt = next
	m.LastError = lastError
	s.queue[id] = m
	return nil
}

func (s *memStore) RemoveApplied(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue, id)
	return nil
}

func (s *memStore) RequeueFailed(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.queue {
		if m.Status != domain.MutationFailed {
			continue
		}
		m.Status = domain.MutationPending
		m.AttemptCount = 0
		m.NextAttemptAt = time.Time{}
		s.queue[id] = m
		n++
	}
	return n, nil
}

func (s *memStore) WasApplied(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied[id], nil
}

func (s *memStore) MarkApplied(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied[id] {
		return false, nil
	}
	s.applied[id] = true
	return true, nil
}

func (s *memStore) ApplyConfirmed(_ context.Context, m domain.PendingMutation, body json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue, m.ID)
	if s.applied[m.ID] {
		return false, nil
	}
	s.applied[m.ID] = true
	s.applyLog = append(s.applyLog, m.ID)
	id, effect := m.ConfirmedCacheEffect(body)
	if effect != domain.CacheEffectNone {
		s.gens[domain.QueueKey(m.ResourceType, id)]++
	}
	s.gens[domain.QueueKey(m.ResourceType, domain.CollectionID)]++
	switch effect {
	case domain.CacheEffectUpsert:
		s.cache[domain.QueueKey(m.ResourceType, id)] = domain.CacheRecord{
			ResourceType: m.ResourceType,
			ResourceID:   id,
			Payload:      body,
			FetchedAt:    time.Now().UTC(),
		}
	case domain.CacheEffectEvict:
		delete(s.cache, domain.QueueKey(m.ResourceType, id))
	}
	delete(s.cache, domain.QueueKey(m.ResourceType, domain.CollectionID))
	return true, nil
}

func (s *memStore) appliedOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.applyLog...)
}

func (s *memStore) queueLen() int {
	n, _ := s.CountPending(context.Background())
	return n
}

// fakeClock is a manually advanced Scheduler.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

func (c *fakeClock) activeTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type stubRemote struct {
	mu     sync.Mutex
	sends  []sentMutation
	listFn func(ctx context.Context, rt domain.ResourceType) (json.RawMessage, error)
	getFn  func(ctx context.Context, rt domain.ResourceType, id string) (json.RawMessage, error)
	sendFn func(ctx context.Context, m domain.PendingMutation, opts ports.SendOptions) (json.RawMessage, error)
}

type sentMutation struct {
	id        string
	overwrite bool
}

func (r *stubRemote) List(ctx context.Context, rt domain.ResourceType) (json.RawMessage, error) {
	if r.listFn != nil {
		return r.listFn(ctx, rt)
	}
	return json.RawMessage(`[]`), nil
}

func (r *stubRemote) Get(ctx context.Context, rt domain.ResourceType, id string) (json.RawMessage, error) {
	if r.getFn != nil {
		return r.getFn(ctx, rt, id)
	}
	return nil, domain.ErrNotFound
}

func (r *stubRemote) Send(ctx context.Context, m domain.PendingMutation, opts ports.SendOptions) (json.RawMessage, error) {
	r.mu.Lock()
	r.sends = append(r.sends, sentMutation{id: m.ID, overwrite: opts.Overwrite})
	r.mu.Unlock()
	if r.sendFn != nil {
		return r.sendFn(ctx, m, opts)
	}
	return echoRepresentation(m), nil
}

func (r *stubRemote) sentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sends))
	for _, s := range r.sends {
		ids = append(ids, s.id)
	}
	return ids
}

// echoRepresentation is what a well-behaved remote returns for a write.
func echoRepresentation(m domain.PendingMutation) json.RawMessage {
	obj := decodeObject(m.Payload)
	id := m.ResourceID
	if id == "" {
		id = "srv-" + m.ID
	}
	obj["id"] = mustJSON(id)
	return mustJSON(obj)
}

type stubMonitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

func newStubMonitor(online bool) *stubMonitor {
	return &stubMonitor{online: online, subs: make(map[int]func(bool))}
}

func (m *stubMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *stubMonitor) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *stubMonitor) Set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range subs {
		fn(online)
	}
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify() {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}

// eventRecorder collects every event emitted on a bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func recordEvents(bus *EventBus) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe(func(e domain.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newPending(id string, rt domain.ResourceType, resourceID string, op domain.Operation, payload string) domain.PendingMutation {
	m := domain.PendingMutation{
		ID:            id,
		ResourceType:  rt,
		ResourceID:    resourceID,
		Operation:     op,
		SchemaVersion: domain.CurrentMutationSchemaVersion,
		Status:        domain.MutationPending,
	}
	if payload != "" {
		m.Payload = json.RawMessage(payload)
	}
	return m
}
