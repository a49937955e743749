package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps records in process. It backs single-process dev runs
// where Postgres is not available.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
	devices map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		devices: make(map[string]struct{}),
	}
}

func (m *MemoryStore) InsertUnlessRecent(_ context.Context, rec Record, since int64) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if recent := m.recentLocked(rec.Name, since); recent != nil {
		return *recent, false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, ok := m.records[rec.ID]; ok {
		return Record{}, false, errors.New("duplicate record id")
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	rec.CreatedAt = time.Now().UTC()
	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return rec, true, nil
}

func (m *MemoryStore) recentLocked(name string, since int64) *Record {
	var best *Record
	for _, id := range m.order {
		rec := m.records[id]
		if rec.Name != name || rec.Timestamp < since || rec.Status == StatusRejected {
			continue
		}
		if best == nil || rec.Timestamp > best.Timestamp {
			r := rec
			best = &r
		}
	}
	return best
}

func (m *MemoryStore) GetRecord(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) RecordByLedgerIndex(_ context.Context, index int64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		rec := m.records[id]
		if rec.LedgerIndex != nil && *rec.LedgerIndex == index {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *MemoryStore) ListRecords(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var out []Record
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if f.Name != "" && rec.Name != f.Name {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateRecordStatus(_ context.Context, id, status string, ledgerIndex *int64, ledgerTx *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	if ledgerIndex != nil {
		i := *ledgerIndex
		rec.LedgerIndex = &i
	}
	if ledgerTx != nil {
		tx := *ledgerTx
		rec.LedgerTx = &tx
	}
	m.records[id] = rec
	return nil
}

func (m *MemoryStore) UpsertDevice(_ context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	m.mu.Lock()
	m.devices[deviceID] = struct{}{}
	m.mu.Unlock()
	return nil
}
