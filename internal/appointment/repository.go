package appointment

import (
	"context"
	"sync"
)

// Repository is the record store behind a Ledger. Save and SaveHolds replace
// the whole stored generation atomically: after a failed call the previous
// generation must still be what Load returns.
type Repository interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error

	// Side-store of explicitly unavailable slots.
	LoadHolds(ctx context.Context) ([]SlotKey, error)
	SaveHolds(ctx context.Context, holds []SlotKey) error
}

// MemoryRepository keeps both stores in memory.
type MemoryRepository struct {
	mu      sync.Mutex
	records []Record
	holds   []SlotKey
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.records))
	for i, r := range m.records {
		out[i] = r.clone()
	}
	return out, nil
}

func (m *MemoryRepository) Save(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := make([]Record, len(records))
	for i, r := range records {
		r = r.clone()
		r.ledger = nil
		next[i] = r
	}

	m.mu.Lock()
	m.records = next
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) LoadHolds(ctx context.Context) ([]SlotKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SlotKey(nil), m.holds...), nil
}

func (m *MemoryRepository) SaveHolds(ctx context.Context, holds []SlotKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.holds = append([]SlotKey(nil), holds...)
	m.mu.Unlock()
	return nil
}
