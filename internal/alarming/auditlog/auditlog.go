package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webcanary/webcanary/internal/alarming/reconciler"
)

// AlarmState is the evaluator's reported state for an alarm.
type AlarmState string

const (
	StateOK               AlarmState = "OK"
	StateAlarm            AlarmState = "ALARM"
	StateInsufficientData AlarmState = "INSUFFICIENT_DATA"
)

// Notification is one alarm state change delivered over the notification
// channel. Delivery is at-least-once and unordered across alarms.
type Notification struct {
	AlarmName string          `json:"alarm_name"`
	NewState  AlarmState      `json:"new_state"`
	ChangedAt time.Time       `json:"changed_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Entry is one appended audit record. Identity is the primary key and is
// stable across redelivery of the same notification.
type Entry struct {
	Identity  string
	AlarmID   string
	TargetID  string
	Signal    reconciler.Signal
	NewState  AlarmState
	ChangedAt time.Time
	Payload   json.RawMessage
}

// DAO appends audit entries. Insert must tolerate duplicate identities
// without creating a second row.
type DAO interface {
	Insert(ctx context.Context, e *Entry) error
}

// Cache is a shared dedupe check across replicas. TryMark returns false
// when the identity was already marked; Unmark releases a mark so a failed
// append can be retried. Errors are reported, not swallowed, so the caller
// can fail closed.
type Cache interface {
	TryMark(ctx context.Context, identity string) (bool, error)
	Unmark(ctx context.Context, identity string) error
}

// IdentityKey derives the stable dedupe identity of a notification.
func IdentityKey(alarmID string, changedAt time.Time, state AlarmState) string {
	return fmt.Sprintf("%s|%s|%s", alarmID, changedAt.UTC().Format(time.RFC3339Nano), state)
}

// ErrInvalidNotification rejects notifications missing their identity parts.
var ErrInvalidNotification = errors.New("invalid alarm notification")

// Recorder appends alarm state changes to the audit log exactly once per
// identity. Dedupe failures fail closed: when the shared cache errors the
// entry is written anyway and the store's conflict handling absorbs any
// duplicate.
type Recorder struct {
	dao   DAO
	cache Cache

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewRecorder(dao DAO, cache Cache) *Recorder {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Recorder{dao: dao, cache: cache, seen: map[string]struct{}{}}
}

func (r *Recorder) Record(ctx context.Context, n Notification) error {
	if n.AlarmName == "" || n.NewState == "" || n.ChangedAt.IsZero() {
		return ErrInvalidNotification
	}
	key := IdentityKey(n.AlarmName, n.ChangedAt, n.NewState)
	if r.alreadySeen(key) {
		log.Debug().Str("identity", key).Msg("duplicate notification suppressed (local)")
		return nil
	}
	fresh, err := r.cache.TryMark(ctx, key)
	if err != nil {
		// fail closed: log anyway rather than risk silently dropping
		log.Warn().Err(err).Str("identity", key).Msg("dedupe cache unavailable, recording anyway")
	} else if !fresh {
		log.Debug().Str("identity", key).Msg("duplicate notification suppressed (cache)")
		r.markSeen(key)
		return nil
	}

	entry := &Entry{
		Identity:  key,
		AlarmID:   n.AlarmName,
		NewState:  n.NewState,
		ChangedAt: n.ChangedAt.UTC(),
		Payload:   n.Payload,
	}
	if targetID, signal, err := reconciler.ParseAlarmName(n.AlarmName); err == nil {
		entry.TargetID = targetID
		entry.Signal = signal
	}
	if len(entry.Payload) == 0 {
		raw, _ := json.Marshal(n)
		entry.Payload = raw
	}
	if err := r.dao.Insert(ctx, entry); err != nil {
		// release the mark so redelivery is not mistaken for a duplicate
		if unmarkErr := r.cache.Unmark(ctx, key); unmarkErr != nil {
			log.Warn().Err(unmarkErr).Str("identity", key).Msg("dedupe unmark failed after append error")
		}
		return fmt.Errorf("append audit entry: %w", err)
	}
	r.markSeen(key)
	log.Info().Str("alarm", n.AlarmName).Str("state", string(n.NewState)).Msg("alarm state change logged")
	return nil
}

func (r *Recorder) alreadySeen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[key]
	return ok
}

func (r *Recorder) markSeen(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[key] = struct{}{}
}
