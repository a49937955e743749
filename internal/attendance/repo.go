package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Store is the persistence the service needs.
type Store interface {
	// InsertUnlessRecent stores rec unless rec.Name already has a live record
	// at or after since. The check and insert are atomic per name; when a
	// recent record exists it is returned with inserted false.
	InsertUnlessRecent(ctx context.Context, rec Record, since int64) (stored Record, inserted bool, err error)
	GetRecord(ctx context.Context, id string) (Record, error)
	// RecordByLedgerIndex returns the record anchored at index, or ErrNotFound.
	RecordByLedgerIndex(ctx context.Context, index int64) (Record, error)
	ListRecords(ctx context.Context, f Filter) ([]Record, error)
	UpdateRecordStatus(ctx context.Context, id, status string, ledgerIndex *int64, ledgerTx *string) error
	UpsertDevice(ctx context.Context, deviceID string) error
}

var _ Store = (*Repository)(nil)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, name, recorded_at, digest, source, status, ledger_index, ledger_tx, created_at`

type scanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec   Record
		index sql.NullInt64
		tx    sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Timestamp, &rec.Digest, &rec.Source, &rec.Status, &index, &tx, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	if index.Valid {
		rec.LedgerIndex = &index.Int64
	}
	if tx.Valid {
		rec.LedgerTx = &tx.String
	}
	return rec, nil
}

// UpsertDevice ensures a device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

func (r *Repository) InsertUnlessRecent(ctx context.Context, rec Record, since int64) (Record, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, err
	}
	defer tx.Rollback()

	// Held until commit, so concurrent writers for one name queue here.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.Name); err != nil {
		return Record{}, false, err
	}
	recent, err := recentByName(ctx, tx, rec.Name, since)
	if err != nil {
		return Record{}, false, err
	}
	if recent != nil {
		return *recent, false, tx.Commit()
	}
	stored, err := insertRecord(ctx, tx, rec)
	if err != nil {
		return Record{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, false, err
	}
	return stored, true, nil
}

// recentByName returns the newest live record for name recorded at or after since.
func recentByName(ctx context.Context, q querier, name string, since int64) (*Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE name = $1 AND recorded_at >= $2 AND status <> 'rejected'
		ORDER BY recorded_at DESC
		LIMIT 1
	`, name, since)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func insertRecord(ctx context.Context, q querier, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	row := q.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, name, recorded_at, digest, source, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, rec.ID, rec.Name, rec.Timestamp, rec.Digest, rec.Source, rec.Status)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetRecord returns a single record by id.
func (r *Repository) GetRecord(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (r *Repository) RecordByLedgerIndex(ctx context.Context, index int64) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE ledger_index = $1 LIMIT 1`, index)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// UpdateRecordStatus sets the status and, once anchored, the ledger position.
func (r *Repository) UpdateRecordStatus(ctx context.Context, id, status string, ledgerIndex *int64, ledgerTx *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = $2,
			ledger_index = COALESCE($3, ledger_index),
			ledger_tx = COALESCE($4, ledger_tx)
		WHERE id = $1
	`, id, status, ledgerIndex, ledgerTx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecords returns records with basic filters, newest first.
func (r *Repository) ListRecords(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.Name != "" {
		args = append(args, f.Name)
		clauses = append(clauses, "name = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
