package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chainattend/internal/integrity"
	"chainattend/internal/ledger"
	"chainattend/internal/queue"
)

const testKey = "YourSecretKeyHere"

func testSigner(t *testing.T) integrity.Signer {
	t.Helper()
	s, err := integrity.NewSigner(testKey, integrity.SchemeConcat)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func newTestService(t *testing.T, q queue.Queue) (*Service, *MemoryStore, *fixedClock) {
	t.Helper()
	store := NewMemoryStore()
	clock := &fixedClock{t: time.Unix(1700000000, 0)}
	svc := NewService(store, testSigner(t), Options{
		DedupWindow: 5 * time.Minute,
		Queue:       q,
		Now:         clock.now,
	})
	return svc, store, clock
}

func TestAcceptValidPayload(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemory(4)
	svc, _, _ := newTestService(t, q)

	p, _ := testSigner(t).New("Alice", 1700000000)
	res, err := svc.Accept(ctx, p, SourceAPI)
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Fatal("first record flagged duplicate")
	}
	if res.Record.Status != StatusPending || res.Record.Digest != p.Hash || res.Record.ID == "" {
		t.Fatalf("unexpected record %+v", res.Record)
	}

	msgs, _ := q.Consume(ctx)
	select {
	case m := <-msgs:
		if m.Type != queue.TypeAnchor || string(m.Body) != res.Record.ID {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("anchor message not published")
	}
}

func TestAcceptRejectsTamperedPayload(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	p, _ := testSigner(t).New("Alice", 1700000000)

	tampered := []integrity.Payload{
		{Name: "Mallory", Timestamp: p.Timestamp, Hash: p.Hash},
		{Name: p.Name, Timestamp: p.Timestamp + 1, Hash: p.Hash},
		{Name: p.Name, Timestamp: p.Timestamp, Hash: p.Hash[:63] + "0"},
	}
	for _, tp := range tampered {
		if _, err := svc.Accept(context.Background(), tp, SourceAPI); !errors.Is(err, ErrDigestMismatch) {
			t.Fatalf("%+v: want ErrDigestMismatch got %v", tp, err)
		}
	}
	if recs, _ := store.ListRecords(context.Background(), Filter{}); len(recs) != 0 {
		t.Fatalf("tampered payloads stored: %v", recs)
	}
}

func TestAcceptInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	for _, p := range []integrity.Payload{
		{Name: "", Timestamp: 1, Hash: "x"},
		{Name: "Alice", Timestamp: -1, Hash: "x"},
	} {
		if _, err := svc.Accept(context.Background(), p, SourceAPI); !errors.Is(err, integrity.ErrInvalidInput) {
			t.Fatalf("%+v: want ErrInvalidInput got %v", p, err)
		}
	}
}

func TestAcceptDeduplicates(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)

	first, _ := testSigner(t).New("Alice", 1700000000)
	second, _ := testSigner(t).New("Alice", 1700000060)
	later, _ := testSigner(t).New("Alice", 1700000000+600)

	r1, err := svc.Accept(ctx, first, SourceAPI)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := svc.Accept(ctx, second, SourceAPI)
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Duplicate || r2.Record.ID != r1.Record.ID {
		t.Fatalf("expected duplicate of %s, got %+v", r1.Record.ID, r2)
	}
	r3, err := svc.Accept(ctx, later, SourceAPI)
	if err != nil {
		t.Fatal(err)
	}
	if r3.Duplicate {
		t.Fatal("record outside window flagged duplicate")
	}
}

func TestAcceptStale(t *testing.T) {
	store := NewMemoryStore()
	clock := &fixedClock{t: time.Unix(1700000000, 0)}
	svc := NewService(store, testSigner(t), Options{MaxSkew: time.Minute, Now: clock.now})

	old, _ := testSigner(t).New("Alice", 1700000000-3600)
	if _, err := svc.Accept(context.Background(), old, SourceAPI); !errors.Is(err, ErrStale) {
		t.Fatalf("want ErrStale got %v", err)
	}
	fresh, _ := testSigner(t).New("Alice", 1700000000-30)
	if _, err := svc.Accept(context.Background(), fresh, SourceAPI); err != nil {
		t.Fatalf("fresh record rejected: %v", err)
	}
}

func TestRecordComputesDigest(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	res, err := svc.Record(context.Background(), "Alice", SourceDevice)
	if err != nil {
		t.Fatal(err)
	}
	want := "5467a654e71faf0d14f73c9c56c82f734e819eba9f0dfc2b73ce8c312fb3644b"
	if res.Record.Timestamp != 1700000000 || res.Record.Digest != want {
		t.Fatalf("unexpected record %+v", res.Record)
	}
	if _, err := svc.Record(context.Background(), "  ", SourceDevice); !errors.Is(err, integrity.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput got %v", err)
	}
}

func TestAnchor(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, nil)
	l := ledger.NewMemory()

	res, _ := svc.Record(ctx, "Alice", SourceAPI)
	receipt, err := svc.Anchor(ctx, l, res.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := store.GetRecord(ctx, res.Record.ID)
	if rec.Status != StatusAnchored || rec.LedgerIndex == nil || *rec.LedgerIndex != receipt.Index || *rec.LedgerTx != receipt.Tx {
		t.Fatalf("record not marked anchored: %+v", rec)
	}

	// Anchoring twice does not append twice.
	if _, err := svc.Anchor(ctx, l, res.Record.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := l.RecordCount(ctx); n != 1 {
		t.Fatalf("ledger has %d entries", n)
	}
}

func TestAnchorRejectsTamperedRecord(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, nil)
	l := ledger.NewMemory()

	res, _ := svc.Record(ctx, "Alice", SourceAPI)
	rec := store.records[res.Record.ID]
	rec.Name = "Mallory"
	store.records[rec.ID] = rec

	if _, err := svc.Anchor(ctx, l, rec.ID); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("want ErrDigestMismatch got %v", err)
	}
	got, _ := store.GetRecord(ctx, rec.ID)
	if got.Status != StatusRejected {
		t.Fatalf("status %s", got.Status)
	}
	if n, _ := l.RecordCount(ctx); n != 0 {
		t.Fatal("tampered record reached the ledger")
	}
}

func TestAnchorMissing(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.Anchor(context.Background(), ledger.NewMemory(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound got %v", err)
	}
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t, nil)
	l := ledger.NewMemory()

	var ids []string
	for i, name := range []string{"Alice", "Bob", "Carol"} {
		clock.t = time.Unix(1700000000+int64(i), 0)
		res, err := svc.Record(ctx, name, SourceAPI)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Anchor(ctx, l, res.Record.ID); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, res.Record.ID)
	}

	report, err := svc.Audit(ctx, l, 100)
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 3 || !report.Clean() {
		t.Fatalf("unexpected report %+v", report)
	}

	// Bob's stored digest altered at rest.
	bob := store.records[ids[1]]
	bob.Timestamp++
	store.records[bob.ID] = bob

	// Carol's ledger pointer moved to Alice's entry.
	carol := store.records[ids[2]]
	zero := int64(0)
	carol.LedgerIndex = &zero
	store.records[carol.ID] = carol

	report, err = svc.Audit(ctx, l, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Tampered) != 1 || report.Tampered[0] != ids[1] {
		t.Fatalf("tampered %v", report.Tampered)
	}
	if len(report.LedgerMismatch) != 1 || report.LedgerMismatch[0] != ids[2] {
		t.Fatalf("ledger mismatch %v", report.LedgerMismatch)
	}
	// Entry 2 lost its only record pointer.
	if len(report.Orphaned) != 1 || report.Orphaned[0] != 2 {
		t.Fatalf("orphaned %v", report.Orphaned)
	}
}

func TestAcceptConcurrentSameName(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, nil)
	p, _ := testSigner(t).New("Alice", 1700000000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Accept(ctx, p, SourceAPI)
			if err != nil {
				t.Error(err)
				return
			}
			if !res.Duplicate {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if inserted != 1 || len(store.records) != 1 {
		t.Fatalf("inserted %d, stored %d", inserted, len(store.records))
	}
}

// statusFailStore refuses status updates after the ledger append.
type statusFailStore struct {
	*MemoryStore
}

func (statusFailStore) UpdateRecordStatus(context.Context, string, string, *int64, *string) error {
	return errors.New("db down")
}

func TestAnchorUnlinkedEntryIsAudited(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	svc := NewService(statusFailStore{mem}, testSigner(t), Options{
		Now: func() time.Time { return time.Unix(1700000000, 0) },
	})
	l := ledger.NewMemory()

	res, err := svc.Record(ctx, "Alice", SourceAPI)
	if err != nil {
		t.Fatal(err)
	}
	receipt, err := svc.Anchor(ctx, l, res.Record.ID)
	if err == nil {
		t.Fatal("expected status update error")
	}
	if n, _ := l.RecordCount(ctx); n != 1 || receipt.Index != 0 {
		t.Fatalf("ledger count %d receipt %+v", n, receipt)
	}

	report, err := svc.Audit(ctx, l, 100)
	if err != nil {
		t.Fatal(err)
	}
	if report.Clean() || len(report.Orphaned) != 1 || report.Orphaned[0] != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}
