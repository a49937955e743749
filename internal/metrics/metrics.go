package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsAccepted counts stored attendance records by source.
	RecordsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "records_accepted_total",
		Help:      "Attendance records stored after digest verification.",
	}, []string{"source"})

	// RecordsRejected counts refused records by reason.
	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "records_rejected_total",
		Help:      "Attendance records refused, by reason.",
	}, []string{"reason"})

	// RecordsDuplicate counts records folded into an earlier one.
	RecordsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "records_duplicate_total",
		Help:      "Attendance records inside the dedup window of an earlier record.",
	})

	// RecordsAnchored counts ledger appends.
	RecordsAnchored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "records_anchored_total",
		Help:      "Attendance records appended to the ledger.",
	})

	// AuditMismatches counts records failing a scheduled audit, by kind.
	AuditMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "audit_mismatches_total",
		Help:      "Stored records whose digest or ledger entry did not match.",
	}, []string{"kind"})

	// Submissions counts recognizer submissions by result.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recognizer",
		Name:      "submissions_total",
		Help:      "Attendance submissions made by the recognition loop.",
	}, []string{"result"})
)

// Rejection reasons.
const (
	ReasonInvalid  = "invalid"
	ReasonMismatch = "mismatch"
	ReasonStale    = "stale"
)

// Submission results.
const (
	ResultSubmitted = "submitted"
	ResultFailed    = "failed"
	ResultUnknown   = "unknown"
)
