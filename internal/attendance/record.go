package attendance

import (
	"errors"
	"time"

	"chainattend/internal/integrity"
)

// Record statuses.
const (
	StatusPending  = "pending"
	StatusAnchored = "anchored"
	StatusRejected = "rejected"
)

// Record sources.
const (
	SourceAPI        = "api"
	SourceRecognizer = "recognizer"
	SourceDevice     = "device"
)

var (
	ErrNotFound       = errors.New("attendance record not found")
	ErrDigestMismatch = errors.New("attendance digest does not match")
	ErrStale          = errors.New("attendance timestamp outside accepted window")
)

// Record is a stored attendance record with its digest.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Timestamp   int64     `json:"timestamp"`
	Digest      string    `json:"hash"`
	Source      string    `json:"source"`
	Status      string    `json:"status"`
	LedgerIndex *int64    `json:"ledger_index,omitempty"`
	LedgerTx    *string   `json:"ledger_tx,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Payload returns the wire form of the record.
func (r Record) Payload() integrity.Payload {
	return integrity.Payload{Name: r.Name, Timestamp: r.Timestamp, Hash: r.Digest}
}

// Filter narrows List results.
type Filter struct {
	Name   string
	Status string
	Limit  int
	Offset int
}
