package auditlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memDAO struct {
	mu      sync.Mutex
	entries map[string]Entry

	inserts int
	err     error
}

func newMemDAO() *memDAO { return &memDAO{entries: map[string]Entry{}} }

func (m *memDAO) Insert(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.inserts++
	// same conflict semantics as the pg table: duplicate identity is a no-op
	if _, ok := m.entries[e.Identity]; ok {
		return nil
	}
	m.entries[e.Identity] = *e
	return nil
}

type fakeCache struct {
	marked map[string]struct{}
	err    error
}

func newFakeCache() *fakeCache { return &fakeCache{marked: map[string]struct{}{}} }

func (c *fakeCache) TryMark(ctx context.Context, identity string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if _, ok := c.marked[identity]; ok {
		return false, nil
	}
	c.marked[identity] = struct{}{}
	return true, nil
}

func (c *fakeCache) Unmark(ctx context.Context, identity string) error {
	if c.err != nil {
		return c.err
	}
	delete(c.marked, identity)
	return nil
}

func testNotification() Notification {
	return Notification{
		AlarmName: "t1-Availability-Alarm",
		NewState:  StateAlarm,
		ChangedAt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	}
}

func TestIdentityKey(t *testing.T) {
	at := time.Date(2026, 8, 29, 10, 0, 0, 500000000, time.FixedZone("X", 3600))
	got := IdentityKey("t1-Availability-Alarm", at, StateAlarm)
	want := "t1-Availability-Alarm|2026-08-29T09:00:00.5Z|ALARM"
	if got != want {
		t.Errorf("IdentityKey = %q, want %q", got, want)
	}
}

func TestRecordAppendsEntry(t *testing.T) {
	dao := newMemDAO()
	r := NewRecorder(dao, newFakeCache())

	if err := r.Record(context.Background(), testNotification()); err != nil {
		t.Fatal(err)
	}
	if len(dao.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(dao.entries))
	}
	for _, e := range dao.entries {
		if e.TargetID != "t1" || string(e.Signal) != "Availability" {
			t.Errorf("entry alarm parse: target=%q signal=%q", e.TargetID, e.Signal)
		}
		if e.NewState != StateAlarm {
			t.Errorf("state = %s", e.NewState)
		}
		if len(e.Payload) == 0 {
			t.Error("payload not backfilled from notification")
		}
	}
}

func TestRecordDuplicateSuppressed(t *testing.T) {
	dao := newMemDAO()
	r := NewRecorder(dao, newFakeCache())
	n := testNotification()

	for i := 0; i < 3; i++ {
		if err := r.Record(context.Background(), n); err != nil {
			t.Fatal(err)
		}
	}
	if dao.inserts != 1 {
		t.Errorf("insert calls = %d, want 1", dao.inserts)
	}
	if len(dao.entries) != 1 {
		t.Errorf("entries = %d, want 1", len(dao.entries))
	}
}

func TestRecordDuplicateAcrossRecorders(t *testing.T) {
	// two replicas share the cache but not the local seen set
	dao := newMemDAO()
	cache := newFakeCache()
	a := NewRecorder(dao, cache)
	b := NewRecorder(dao, cache)
	n := testNotification()

	if err := a.Record(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if err := b.Record(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if len(dao.entries) != 1 {
		t.Errorf("entries = %d, want 1", len(dao.entries))
	}
}

func TestRecordFailsClosedOnCacheError(t *testing.T) {
	dao := newMemDAO()
	cache := newFakeCache()
	cache.err = errors.New("redis down")
	r := NewRecorder(dao, cache)

	if err := r.Record(context.Background(), testNotification()); err != nil {
		t.Fatal(err)
	}
	if len(dao.entries) != 1 {
		t.Errorf("entries = %d, want 1 (cache failure must not drop the entry)", len(dao.entries))
	}
}

func TestRecordRejectsInvalid(t *testing.T) {
	r := NewRecorder(newMemDAO(), nil)
	tests := []Notification{
		{},
		{AlarmName: "a", NewState: StateOK},
		{AlarmName: "a", ChangedAt: time.Now()},
		{NewState: StateOK, ChangedAt: time.Now()},
	}
	for i, n := range tests {
		if err := r.Record(context.Background(), n); !errors.Is(err, ErrInvalidNotification) {
			t.Errorf("case %d: err = %v, want ErrInvalidNotification", i, err)
		}
	}
}

func TestRecordDAOFailureIsReturned(t *testing.T) {
	dao := newMemDAO()
	dao.err = errors.New("db down")
	r := NewRecorder(dao, newFakeCache())
	n := testNotification()

	if err := r.Record(context.Background(), n); err == nil {
		t.Fatal("expected error from failed insert")
	}

	// entry was not marked seen, redelivery succeeds
	dao.err = nil
	if err := r.Record(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if len(dao.entries) != 1 {
		t.Errorf("entries = %d, want 1", len(dao.entries))
	}
}
