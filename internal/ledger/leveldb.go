package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	countKey    = "count"
	entryPrefix = "entry/"
)

var _ Ledger = (*LevelDB)(nil)

// LevelDB persists the ledger in a leveldb directory. Entries are keyed by
// zero-padded hex index so iteration order equals append order.
type LevelDB struct {
	mu  sync.Mutex // serializes appends
	db  *leveldb.DB
	now func() time.Time
}

// Open opens or creates the ledger at path.
func Open(path string) (*LevelDB, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	return &LevelDB{db: db, now: time.Now}, nil
}

// OpenReadOnly opens an existing ledger without write access. The path
// must already exist.
func OpenReadOnly(path string) (*LevelDB, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("ledger: %s is not a directory", path)
	}
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: true,
		ReadOnly:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	return &LevelDB{db: db, now: time.Now}, nil
}

func entryKey(index int64) []byte {
	return []byte(fmt.Sprintf("%s%016x", entryPrefix, index))
}

func (l *LevelDB) count() (int64, error) {
	b, err := l.db.Get([]byte(countKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: count record is %d bytes", ErrIntegrity, len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (l *LevelDB) get(index int64) (Entry, error) {
	b, err := l.db.Get(entryKey(index), nil)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: entry %d: %w", index, err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("ledger: decode entry %d: %w", index, err)
	}
	return e, nil
}

func (l *LevelDB) RecordAttendance(ctx context.Context, name, digest string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := checkDigest(digest); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx, err := l.count()
	if err != nil {
		return Receipt{}, err
	}
	prev := GenesisTx
	if idx > 0 {
		last, err := l.get(idx - 1)
		if err != nil {
			return Receipt{}, err
		}
		prev = last.Tx
	}

	e := Entry{
		Index:      idx,
		Name:       name,
		Digest:     digest,
		Tx:         TxID(prev, idx, name, digest),
		AppendedAt: l.now().Unix(),
	}
	blob, err := json.Marshal(e)
	if err != nil {
		return Receipt{}, err
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(idx+1))

	batch := new(leveldb.Batch)
	batch.Put(entryKey(idx), blob)
	batch.Put([]byte(countKey), n[:])
	if err := l.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return Receipt{}, fmt.Errorf("ledger: append: %w", err)
	}
	return Receipt{Index: e.Index, Tx: e.Tx, AppendedAt: e.AppendedAt}, nil
}

func (l *LevelDB) RecordCount(ctx context.Context) (int64, error) {
	return l.count()
}

func (l *LevelDB) Records(ctx context.Context, start, end int64) ([]Entry, error) {
	count, err := l.count()
	if err != nil {
		return nil, err
	}
	if err := checkRange(start, end, count); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, end-start)
	iter := l.db.NewIterator(&util.Range{Start: entryKey(start), Limit: entryKey(end)}, nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("ledger: decode %s: %w", iter.Key(), err)
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if int64(len(out)) != end-start {
		return nil, fmt.Errorf("%w: expected %d entries, found %d", ErrIntegrity, end-start, len(out))
	}
	return out, nil
}

// Verify walks the chain in batches so large ledgers are not loaded at once.
func (l *LevelDB) Verify(ctx context.Context) error {
	const batch = 1024

	count, err := l.count()
	if err != nil {
		return err
	}
	prev := GenesisTx
	for start := int64(0); start < count; start += batch {
		end := start + batch
		if end > count {
			end = count
		}
		entries, err := l.Records(ctx, start, end)
		if err != nil {
			return err
		}
		if prev, err = verifyChain(prev, start, entries); err != nil {
			return err
		}
	}
	return nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
