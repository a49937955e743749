package ledger

import (
	"context"
	"sync"
	"time"
)

var _ Ledger = (*Memory)(nil)

// Memory is an in-process ledger for tests and dev runs.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool
	now     func() time.Time
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) RecordAttendance(ctx context.Context, name, digest string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := checkDigest(digest); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Receipt{}, ErrClosed
	}

	prev := GenesisTx
	if n := len(m.entries); n > 0 {
		prev = m.entries[n-1].Tx
	}
	idx := int64(len(m.entries))
	e := Entry{
		Index:      idx,
		Name:       name,
		Digest:     digest,
		Tx:         TxID(prev, idx, name, digest),
		AppendedAt: m.now().Unix(),
	}
	m.entries = append(m.entries, e)
	return Receipt{Index: e.Index, Tx: e.Tx, AppendedAt: e.AppendedAt}, nil
}

func (m *Memory) RecordCount(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return int64(len(m.entries)), nil
}

func (m *Memory) Records(ctx context.Context, start, end int64) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if err := checkRange(start, end, int64(len(m.entries))); err != nil {
		return nil, err
	}
	out := make([]Entry, end-start)
	copy(out, m.entries[start:end])
	return out, nil
}

func (m *Memory) Verify(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := verifyChain(GenesisTx, 0, m.entries)
	return err
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
