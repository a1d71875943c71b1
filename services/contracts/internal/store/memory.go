package store

import (
	"context"
	"sort"
	"sync"

	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
)

type Memory struct {
	mu        sync.RWMutex
	contracts map[string]*domain.Contract
	parked    map[string][]Parked
	seq       int64
}

func NewMemory() *Memory {
	return &Memory{
		contracts: make(map[string]*domain.Contract),
		parked:    make(map[string][]Parked),
	}
}

func (m *Memory) Create(ctx context.Context, c *domain.Contract, park ...ledger.Event) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[c.ID]; ok {
		return ErrExists
	}
	if err := checkAppend(0, c); err != nil {
		return err
	}
	c.Version = 1
	m.contracts[c.ID] = c.Clone()
	m.park(c.ID, park)
	return nil
}

func (m *Memory) Load(ctx context.Context, id string) (*domain.Contract, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, c *domain.Contract, park ...ledger.Event) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.contracts[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != c.Version {
		return ErrConflict
	}
	if err := checkAppend(len(cur.Signatures), c); err != nil {
		return err
	}
	c.Version++
	m.contracts[c.ID] = c.Clone()
	m.park(c.ID, park)
	return nil
}

// park must be called with mu held.
func (m *Memory) park(id string, evs []ledger.Event) {
	for _, e := range evs {
		m.seq++
		e.ContractID = id
		e.Data = append([]byte(nil), e.Data...)
		m.parked[id] = append(m.parked[id], Parked{Seq: m.seq, Event: e})
	}
}

// List returns matches ordered by creation time, oldest first.
func (m *Memory) List(ctx context.Context, f ListFilter) ([]*domain.Contract, error) {
	_ = ctx
	m.mu.RLock()
	out := make([]*domain.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		if f.match(c) {
			out = append(out, c.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) Parked(ctx context.Context, contractID string) ([]Parked, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur := m.parked[contractID]
	out := make([]Parked, len(cur))
	for i, p := range cur {
		p.Event.Data = append([]byte(nil), p.Event.Data...)
		out[i] = p
	}
	return out, nil
}

// Unpark is a no-op for an unknown seq.
func (m *Memory) Unpark(ctx context.Context, contractID string, seq int64) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.parked[contractID]
	for i, p := range cur {
		if p.Seq != seq {
			continue
		}
		next := append(append([]Parked(nil), cur[:i]...), cur[i+1:]...)
		if len(next) == 0 {
			delete(m.parked, contractID)
		} else {
			m.parked[contractID] = next
		}
		return nil
	}
	return nil
}

func (m *Memory) ParkedContracts(ctx context.Context) ([]string, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.parked))
	for id := range m.parked {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return m.parked[out[i]][0].Seq < m.parked[out[j]][0].Seq })
	return out, nil
}
