// Package ledger is an append-only attendance ledger. Each entry commits to
// the previous one through its transaction id, so rewriting history breaks
// the chain.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chainattend/internal/integrity"
)

// GenesisTx is the previous-transaction id of the first entry.
var GenesisTx = strings.Repeat("0", integrity.DigestLen)

var (
	ErrRange         = errors.New("ledger: invalid range")
	ErrIntegrity     = errors.New("ledger: integrity check failed")
	ErrInvalidDigest = errors.New("ledger: invalid digest")
	ErrClosed        = errors.New("ledger: closed")
)

// Entry is a single recorded attendance.
type Entry struct {
	Index      int64  `json:"index"`
	Name       string `json:"name"`
	Digest     string `json:"digest"`
	Tx         string `json:"tx"`
	AppendedAt int64  `json:"appended_at"`
}

// Receipt is returned once an entry is durably appended.
type Receipt struct {
	Index      int64  `json:"index"`
	Tx         string `json:"tx"`
	AppendedAt int64  `json:"appended_at"`
}

// Ledger stores attendance digests in append order.
type Ledger interface {
	// RecordAttendance appends name with its digest.
	RecordAttendance(ctx context.Context, name, digest string) (Receipt, error)

	// RecordCount returns the number of entries.
	RecordCount(ctx context.Context) (int64, error)

	// Records returns entries in [start, end).
	Records(ctx context.Context, start, end int64) ([]Entry, error)

	// Verify walks the whole chain.
	Verify(ctx context.Context) error

	Close() error
}

// All returns every entry. An empty ledger yields an empty slice without
// issuing a range query.
func All(ctx context.Context, l Ledger) ([]Entry, error) {
	count, err := l.RecordCount(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []Entry{}, nil
	}
	return l.Records(ctx, 0, count)
}

// At returns the entry at index.
func At(ctx context.Context, l Ledger, index int64) (Entry, error) {
	entries, err := l.Records(ctx, index, index+1)
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// TxID derives the transaction id of an entry from its predecessor.
func TxID(prev string, index int64, name, digest string) string {
	sum := sha256.Sum256([]byte(prev + "|" + strconv.FormatInt(index, 10) + "|" + name + "|" + digest))
	return hex.EncodeToString(sum[:])
}

func checkRange(start, end, count int64) error {
	if start < 0 || start > end || end > count {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrRange, start, end, count)
	}
	return nil
}

func checkDigest(digest string) error {
	if !integrity.IsDigest(digest) {
		return fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	return nil
}

// verifyChain checks that entries form a dense, correctly linked chain
// starting right after prev.
func verifyChain(prev string, first int64, entries []Entry) (string, error) {
	for i, e := range entries {
		want := first + int64(i)
		if e.Index != want {
			return "", fmt.Errorf("%w: entry %d has index %d", ErrIntegrity, want, e.Index)
		}
		if !integrity.IsDigest(e.Digest) {
			return "", fmt.Errorf("%w: entry %d digest malformed", ErrIntegrity, want)
		}
		if tx := TxID(prev, e.Index, e.Name, e.Digest); tx != e.Tx {
			return "", fmt.Errorf("%w: entry %d tx %s, expected %s", ErrIntegrity, want, e.Tx, tx)
		}
		prev = e.Tx
	}
	return prev, nil
}
