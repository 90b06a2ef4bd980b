package sms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/myhometown/textline/internal/carrier"
	"github.com/myhometown/textline/internal/store"
	"github.com/myhometown/textline/pkg/codes"
)

// fakeGateway scripts carrier behavior per test and captures every call.
type fakeGateway struct {
	mu         sync.Mutex
	sendCalls  []carrier.SendParams
	fetchCalls []string

	sendFunc  func(params carrier.SendParams) (*carrier.SendResult, error)
	fetchFunc func(carrierMessageID string) (*carrier.StatusResult, error)
	verifyErr error
}

func (g *fakeGateway) Send(_ context.Context, params carrier.SendParams) (*carrier.SendResult, error) {
	g.mu.Lock()
	g.sendCalls = append(g.sendCalls, params)
	n := len(g.sendCalls)
	g.mu.Unlock()

	if g.sendFunc != nil {
		return g.sendFunc(params)
	}
	return &carrier.SendResult{CarrierMessageID: fmt.Sprintf("SM%04d", n), Status: "queued"}, nil
}

func (g *fakeGateway) FetchStatus(_ context.Context, carrierMessageID string) (*carrier.StatusResult, error) {
	g.mu.Lock()
	g.fetchCalls = append(g.fetchCalls, carrierMessageID)
	g.mu.Unlock()

	if g.fetchFunc != nil {
		return g.fetchFunc(carrierMessageID)
	}
	return &carrier.StatusResult{Status: "sent"}, nil
}

func (g *fakeGateway) VerifyCredentials(context.Context) (string, error) {
	if g.verifyErr != nil {
		return "", g.verifyErr
	}
	return "active", nil
}

func (g *fakeGateway) sentParams() []carrier.SendParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]carrier.SendParams, len(g.sendCalls))
	copy(out, g.sendCalls)
	return out
}

// fakeLogStore is an in-memory DeliveryLogStore with the same status
// guards as the SQL implementation. writes counts actual row mutations.
type fakeLogStore struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*store.DeliveryLogEntry
	writes int

	createErr error
	markErr   error
	applyErr  error
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{rows: map[uuid.UUID]*store.DeliveryLogEntry{}}
}

func (s *fakeLogStore) Create(_ context.Context, e *store.DeliveryLogEntry) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.rows[e.ID] = &cp
	return nil
}

func (s *fakeLogStore) FindByCarrierMessageID(_ context.Context, carrierMessageID string) (*store.DeliveryLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.CarrierMessageID != nil && *row.CarrierMessageID == carrierMessageID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeLogStore) MarkSent(_ context.Context, id uuid.UUID, carrierMessageID string, sentAt time.Time) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != codes.StatusPending {
		return store.ErrNotFound
	}
	row.Status = codes.StatusSent
	row.CarrierMessageID = &carrierMessageID
	row.SentAt = &sentAt
	s.writes++
	return nil
}

func (s *fakeLogStore) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || (row.Status != codes.StatusPending && row.Status != codes.StatusSent) {
		return store.ErrNotFound
	}
	row.Status = codes.StatusFailed
	row.ErrorMessage = &errorMessage
	s.writes++
	return nil
}

func (s *fakeLogStore) ApplyCarrierStatus(_ context.Context, id uuid.UUID, fromStatus, toStatus string, errorMessage *string, deliveredAt *time.Time, price *decimal.Decimal) (bool, error) {
	if s.applyErr != nil {
		return false, s.applyErr
	}
	if !codes.CanTransition(fromStatus, toStatus) {
		return false, fmt.Errorf("illegal status transition %s -> %s", fromStatus, toStatus)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != fromStatus {
		return false, nil
	}
	row.Status = toStatus
	if errorMessage != nil {
		row.ErrorMessage = errorMessage
	}
	if deliveredAt != nil {
		row.DeliveredAt = deliveredAt
	}
	if price != nil {
		row.Price = price
	}
	s.writes++
	return true, nil
}

func (s *fakeLogStore) ListReconcilable(_ context.Context, since time.Time, limit, offset int) ([]store.DeliveryLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []store.DeliveryLogEntry
	for _, row := range s.rows {
		if row.CarrierMessageID == nil || *row.CarrierMessageID == "" {
			continue
		}
		if row.Status != codes.StatusPending && row.Status != codes.StatusSent {
			continue
		}
		if row.CreatedAt.Before(since) {
			continue
		}
		all = append(all, *row)
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *fakeLogStore) get(id uuid.UUID) *store.DeliveryLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		cp := *row
		return &cp
	}
	return nil
}

func (s *fakeLogStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *fakeLogStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// fakeCounterStore applies the same signed-delta semantics as the SQL
// implementation so tests can assert counter conservation.
type fakeCounterStore struct {
	mu        sync.Mutex
	total     int
	counts    map[string]int
	completed bool
	created   bool
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{counts: map[string]int{}}
}

func (s *fakeCounterStore) Create(_ context.Context, _ string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = true
	s.total = total
	s.counts[codes.StatusPending] = total
	return nil
}

func (s *fakeCounterStore) Move(_ context.Context, _ string, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[from] <= 0 {
		return fmt.Errorf("counter %s would go negative", from)
	}
	s.counts[from]--
	s.counts[to]++
	return nil
}

func (s *fakeCounterStore) MarkCompleted(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
	return nil
}

func (s *fakeCounterStore) sum() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, n := range s.counts {
		sum += n
	}
	return sum
}

func (s *fakeCounterStore) count(status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[status]
}

// fakeScheduleStore holds at most a handful of schedules per test.
type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*store.ScheduledMessage
	recorded  map[uuid.UUID]any
	deleteErr error
}

func newFakeScheduleStore(schedules ...*store.ScheduledMessage) *fakeScheduleStore {
	s := &fakeScheduleStore{
		schedules: map[uuid.UUID]*store.ScheduledMessage{},
		recorded:  map[uuid.UUID]any{},
	}
	for _, sched := range schedules {
		s.schedules[sched.ID] = sched
	}
	return s
}

func (s *fakeScheduleStore) GetByID(_ context.Context, id uuid.UUID) (*store.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched, ok := s.schedules[id]; ok {
		cp := *sched
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeScheduleStore) RecordResults(_ context.Context, id uuid.UUID, results any, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return store.ErrNotFound
	}
	s.recorded[id] = results
	return nil
}

func (s *fakeScheduleStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.schedules[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

// fakeNotifier records alert subjects.
type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *fakeNotifier) Notify(_ context.Context, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subjects)
}
