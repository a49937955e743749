package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainattend/internal/integrity"
	"chainattend/internal/ledger"
	"chainattend/internal/logger"
	"chainattend/internal/metrics"
	"chainattend/internal/queue"
)

// Options tune a Service. Zero values pick defaults.
type Options struct {
	DedupWindow time.Duration // default 5m
	MaxSkew     time.Duration // 0 disables the freshness check
	Queue       queue.Queue   // receives anchor messages; nil skips publishing
	Now         func() time.Time
}

// Result is the outcome of storing a record.
type Result struct {
	Record    Record
	Duplicate bool
}

// Service verifies, deduplicates and stores attendance records.
type Service struct {
	store       Store
	signer      integrity.Signer
	dedupWindow time.Duration
	maxSkew     time.Duration
	queue       queue.Queue
	now         func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store, signer integrity.Signer, opts Options) *Service {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:       store,
		signer:      signer,
		dedupWindow: opts.DedupWindow,
		maxSkew:     opts.MaxSkew,
		queue:       opts.Queue,
		now:         opts.Now,
	}
}

// Verify checks a payload without storing it.
func (s *Service) Verify(p integrity.Payload) bool {
	return s.signer.Check(p)
}

// Accept stores a payload produced elsewhere once its digest checks out.
func (s *Service) Accept(ctx context.Context, p integrity.Payload, source string) (Result, error) {
	if strings.TrimSpace(p.Name) == "" || p.Timestamp < 0 {
		metrics.RecordsRejected.WithLabelValues(metrics.ReasonInvalid).Inc()
		return Result{}, fmt.Errorf("%w: name and non-negative timestamp required", integrity.ErrInvalidInput)
	}
	if !s.signer.Check(p) {
		metrics.RecordsRejected.WithLabelValues(metrics.ReasonMismatch).Inc()
		logger.WarnContext(ctx, "rejected attendance record", "name", p.Name, "timestamp", p.Timestamp, "source", source)
		return Result{}, ErrDigestMismatch
	}
	if s.maxSkew > 0 {
		if d := s.now().Sub(p.Time()); d > s.maxSkew || d < -s.maxSkew {
			metrics.RecordsRejected.WithLabelValues(metrics.ReasonStale).Inc()
			return Result{}, ErrStale
		}
	}
	return s.persist(ctx, Record{
		Name:      p.Name,
		Timestamp: p.Timestamp,
		Digest:    p.Hash,
		Source:    source,
	})
}

// Record creates and stores a record for name stamped now.
func (s *Service) Record(ctx context.Context, name, source string) (Result, error) {
	if strings.TrimSpace(name) == "" {
		return Result{}, fmt.Errorf("%w: name required", integrity.ErrInvalidInput)
	}
	p, err := s.signer.Now(name, s.now())
	if err != nil {
		return Result{}, err
	}
	return s.persist(ctx, Record{
		Name:      p.Name,
		Timestamp: p.Timestamp,
		Digest:    p.Hash,
		Source:    source,
	})
}

func (s *Service) persist(ctx context.Context, rec Record) (Result, error) {
	since := rec.Timestamp - int64(s.dedupWindow/time.Second)
	rec.Status = StatusPending
	stored, inserted, err := s.store.InsertUnlessRecent(ctx, rec, since)
	if err != nil {
		return Result{}, fmt.Errorf("insert record: %w", err)
	}
	if !inserted {
		metrics.RecordsDuplicate.Inc()
		return Result{Record: stored, Duplicate: true}, nil
	}
	metrics.RecordsAccepted.WithLabelValues(rec.Source).Inc()
	logger.InfoContext(ctx, "attendance recorded", "id", stored.ID, "name", stored.Name, "timestamp", stored.Timestamp)

	if s.queue != nil {
		msg := queue.Message{Type: queue.TypeAnchor, Body: []byte(stored.ID)}
		if err := s.queue.Publish(ctx, msg); err != nil {
			logger.ErrorContext(ctx, "queue publish failed", "id", stored.ID, "error", err)
		}
	}
	return Result{Record: stored}, nil
}

// Get returns a stored record.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.store.GetRecord(ctx, id)
}

// List returns stored records.
func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	return s.store.ListRecords(ctx, f)
}

// RegisterDevice validates and persists device metadata.
func (s *Service) RegisterDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	return s.store.UpsertDevice(ctx, deviceID)
}

// Anchor re-verifies a pending record and appends it to the ledger. A record
// whose digest no longer matches is marked rejected and ErrDigestMismatch is
// returned.
func (s *Service) Anchor(ctx context.Context, l ledger.Ledger, id string) (ledger.Receipt, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if rec.Status == StatusAnchored && rec.LedgerIndex != nil && rec.LedgerTx != nil {
		return ledger.Receipt{Index: *rec.LedgerIndex, Tx: *rec.LedgerTx}, nil
	}
	if !s.signer.Check(rec.Payload()) {
		metrics.AuditMismatches.WithLabelValues("digest").Inc()
		if err := s.MarkRejected(ctx, id); err != nil {
			return ledger.Receipt{}, err
		}
		return ledger.Receipt{}, ErrDigestMismatch
	}

	receipt, err := l.RecordAttendance(ctx, rec.Name, rec.Digest)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("ledger append: %w", err)
	}
	if err := s.MarkAnchored(ctx, id, receipt); err != nil {
		// The entry is in the ledger but nothing points at it; Audit reports
		// it as orphaned until the record is repaired.
		logger.ErrorContext(ctx, "ledger entry written but record not updated",
			"id", id, "index", receipt.Index, "tx", receipt.Tx, "error", err)
		return receipt, err
	}
	metrics.RecordsAnchored.Inc()
	return receipt, nil
}

// MarkAnchored records the ledger position of id.
func (s *Service) MarkAnchored(ctx context.Context, id string, r ledger.Receipt) error {
	if err := s.store.UpdateRecordStatus(ctx, id, StatusAnchored, &r.Index, &r.Tx); err != nil {
		return fmt.Errorf("mark anchored: %w", err)
	}
	return nil
}

// MarkRejected flags id so it is never anchored or counted for dedup.
func (s *Service) MarkRejected(ctx context.Context, id string) error {
	if err := s.store.UpdateRecordStatus(ctx, id, StatusRejected, nil, nil); err != nil {
		return fmt.Errorf("mark rejected: %w", err)
	}
	return nil
}

// AuditReport summarizes an audit run.
type AuditReport struct {
	Checked        int      `json:"checked"`
	Tampered       []string `json:"tampered"`
	LedgerMismatch []string `json:"ledger_mismatch"`
	Orphaned       []int64  `json:"orphaned"` // ledger indexes no record points at
}

// Clean reports whether the audit found nothing.
func (r AuditReport) Clean() bool {
	return len(r.Tampered) == 0 && len(r.LedgerMismatch) == 0 && len(r.Orphaned) == 0
}

// Audit re-verifies the newest stored records and, when l is non-nil,
// checks anchored ones against their ledger entry and the newest ledger
// entries against the records pointing at them.
func (s *Service) Audit(ctx context.Context, l ledger.Ledger, limit int) (AuditReport, error) {
	recs, err := s.store.ListRecords(ctx, Filter{Limit: limit})
	if err != nil {
		return AuditReport{}, err
	}

	var report AuditReport
	for _, rec := range recs {
		if rec.Status == StatusRejected {
			continue
		}
		report.Checked++
		if !s.signer.Check(rec.Payload()) {
			report.Tampered = append(report.Tampered, rec.ID)
			metrics.AuditMismatches.WithLabelValues("digest").Inc()
			continue
		}
		if l == nil || rec.Status != StatusAnchored || rec.LedgerIndex == nil {
			continue
		}
		entry, err := ledger.At(ctx, l, *rec.LedgerIndex)
		if err != nil || entry.Digest != rec.Digest || entry.Name != rec.Name ||
			(rec.LedgerTx != nil && *rec.LedgerTx != entry.Tx) {
			report.LedgerMismatch = append(report.LedgerMismatch, rec.ID)
			metrics.AuditMismatches.WithLabelValues("ledger").Inc()
		}
	}
	if l != nil {
		orphaned, err := s.orphaned(ctx, l, limit)
		if err != nil {
			return report, fmt.Errorf("ledger scan: %w", err)
		}
		report.Orphaned = orphaned
	}
	return report, nil
}

// orphaned returns the indexes among the newest limit ledger entries that
// no stored record is anchored at.
func (s *Service) orphaned(ctx context.Context, l ledger.Ledger, limit int) ([]int64, error) {
	count, err := l.RecordCount(ctx)
	if err != nil || count == 0 {
		return nil, err
	}
	start := int64(0)
	if limit > 0 && count > int64(limit) {
		start = count - int64(limit)
	}
	entries, err := l.Records(ctx, start, count)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, e := range entries {
		_, err := s.store.RecordByLedgerIndex(ctx, e.Index)
		if errors.Is(err, ErrNotFound) {
			out = append(out, e.Index)
			metrics.AuditMismatches.WithLabelValues("orphan").Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
