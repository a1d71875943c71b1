// Package idempotency replays the stored response of a mutating request
// retried with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

// ErrKeyReused means the key was first used with a different request body.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

const DefaultTTL = 24 * time.Hour

type ActorContext struct {
	ActorDID       string
	IdempotencyKey string
}

type Record struct {
	Fingerprint string
	Status      int
	Body        []byte
	SavedAt     time.Time
}

type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
}

// Fingerprint identifies a request body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func recordKey(actor ActorContext, endpoint string) string {
	return strings.Join([]string{actor.ActorDID, actor.IdempotencyKey, endpoint}, "\x00")
}

// Replay returns the stored response for the key, if any. A stored response
// for a different fingerprint is ErrKeyReused.
func Replay(ctx context.Context, st Store, actor ActorContext, endpoint, fingerprint string) (int, []byte, bool, error) {
	if actor.IdempotencyKey == "" {
		return 0, nil, false, nil
	}
	rec, found, err := st.Get(ctx, recordKey(actor, endpoint))
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	if rec.Fingerprint != fingerprint {
		return 0, nil, false, ErrKeyReused
	}
	return rec.Status, rec.Body, true, nil
}

func Save(ctx context.Context, st Store, actor ActorContext, endpoint, fingerprint string, status int, body []byte) error {
	if actor.IdempotencyKey == "" {
		return nil
	}
	return st.Put(ctx, recordKey(actor, endpoint), Record{
		Fingerprint: fingerprint,
		Status:      status,
		Body:        append([]byte(nil), body...),
	})
}

// Memory keeps records in a concurrent map and forgets them after ttl.
type Memory struct {
	records cmap.ConcurrentMap
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{records: cmap.New(), ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (Record, bool, error) {
	v, ok := m.records.Get(key)
	if !ok {
		return Record{}, false, nil
	}
	rec := v.(Record)
	if m.now().Sub(rec.SavedAt) >= m.ttl {
		m.records.Remove(key)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Sweep drops expired records and returns how many it removed.
func (m *Memory) Sweep() int {
	removed := 0
	for _, key := range m.records.Keys() {
		gone := m.records.RemoveCb(key, func(_ string, v interface{}, exists bool) bool {
			return exists && m.now().Sub(v.(Record).SavedAt) >= m.ttl
		})
		if gone {
			removed++
		}
	}
	return removed
}

// StartSweeper calls sweep every interval until the returned stop func is
// called.
func StartSweeper(every time.Duration, sweep func()) (stop func()) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				sweep()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (m *Memory) Len() int { return m.records.Count() }

// Put keeps the first record for a key; later puts are ignored.
func (m *Memory) Put(_ context.Context, key string, rec Record) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = m.now().UTC()
	}
	m.records.Upsert(key, rec, func(exists bool, valueInMap interface{}, newValue interface{}) interface{} {
		if exists && m.now().Sub(valueInMap.(Record).SavedAt) < m.ttl {
			return valueInMap
		}
		return newValue
	})
	return nil
}
