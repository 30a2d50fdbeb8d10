package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pixperk/rolodex/pkg/types"
	"golang.org/x/text/cases"
)

//go:embed schema.sql
var schemaSQL string

// sqlite3 plus a casefold() function, so filters fold case the way
// types.ListQuery.Match does instead of LIKE's ASCII-only folding
const sqliteDriver = "sqlite3_rolodex"

func init() {
	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("casefold", casefold, true)
		},
	})
}

func casefold(s string) string {
	return cases.Fold().String(s)
}

const recordColumns = `id, name, phone, address, notes, lock_owner, lock_acquired_at, created_at, updated_at`

// SQLite-backed store
// lock writes are conditional UPDATEs (... WHERE lock_owner IS ?) so the
// compare-and-set happens inside the database, not in application code
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens a SQLite database at the given path.
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *types.Record) (*types.Record, error) {
	stored := rec.Clone()
	stored.Lock = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, name, phone, address, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		stored.ID, stored.Name, stored.Phone, stored.Address, stored.Notes,
		stored.CreatedAt.UnixNano(), stored.UpdatedAt.UnixNano(),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return nil, types.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	return stored, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	return scanRecord(row)
}

func (s *SQLiteStore) List(ctx context.Context, q types.ListQuery) (*types.Page, error) {
	q = q.Normalize()

	var (
		clauses []string
		args    []any
	)
	for column, value := range map[string]string{"name": q.Name, "phone": q.Phone, "address": q.Address} {
		if value == "" {
			continue
		}
		clauses = append(clauses, `instr(casefold(`+column+`), ?) > 0`)
		args = append(args, casefold(value))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records`+where+
			` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`,
		append(args, q.PageSize, q.Offset())...,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	return &types.Page{
		Records:     records,
		Total:       total,
		TotalPages:  types.TotalPages(total, q.PageSize),
		CurrentPage: q.Page,
	}, nil
}

func (s *SQLiteStore) SwapLock(ctx context.Context, id, expected string, next *types.Lock) (*Result, error) {
	owner, at := lockColumns(next)
	return s.conditional(ctx, id, expected,
		`UPDATE records SET lock_owner = ?, lock_acquired_at = ? WHERE id = ? AND lock_owner IS ?`,
		owner, at, id, nullString(expected),
	)
}

func (s *SQLiteStore) ReplaceFields(ctx context.Context, id, expected string, fields types.Fields, at time.Time) (*Result, error) {
	f := fields.Normalize()
	return s.conditional(ctx, id, expected, `
		UPDATE records
		SET name = ?, phone = ?, address = ?, notes = ?, updated_at = ?,
		    lock_owner = NULL, lock_acquired_at = NULL
		WHERE id = ? AND lock_owner IS ?`,
		f.Name, f.Phone, f.Address, f.Notes, at.UnixNano(), id, nullString(expected),
	)
}

func (s *SQLiteStore) Delete(ctx context.Context, id, expected string) (*types.Lock, error) {
	res, err := s.conditional(ctx, id, expected,
		`DELETE FROM records WHERE id = ? AND lock_owner IS ?`,
		id, nullString(expected),
	)
	if err != nil {
		return nil, err
	}
	return res.Previous, nil
}

func (s *SQLiteStore) Locked(ctx context.Context, owner string) ([]*types.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE lock_owner IS NOT NULL`
	var args []any
	if owner != "" {
		query += ` AND lock_owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("locked records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(lock_owner) FROM records`,
	).Scan(&stats.Records, &stats.Locks)
	return stats, err
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// runs a write conditioned on the lock owner inside one transaction
// zero affected rows means the owner is no longer the expected one
func (s *SQLiteStore) conditional(ctx context.Context, id, expected, stmt string, args ...any) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	before, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("conditional write: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, types.ErrPreconditionFailed
	}

	after, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id))
	if errors.Is(err, types.ErrNotFound) {
		after = nil // deleted
	} else if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Result{Record: after, Previous: before.Lock}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var (
		rec       types.Record
		owner     sql.NullString
		lockedAt  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Phone, &rec.Address, &rec.Notes,
		&owner, &lockedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if owner.Valid {
		rec.Lock = &types.Lock{
			Owner:      owner.String,
			AcquiredAt: time.Unix(0, lockedAt.Int64).UTC(),
		}
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*types.Record, error) {
	records := []*types.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func lockColumns(l *types.Lock) (sql.NullString, sql.NullInt64) {
	if l == nil {
		return sql.NullString{}, sql.NullInt64{}
	}
	return sql.NullString{String: l.Owner, Valid: true},
		sql.NullInt64{Int64: l.AcquiredAt.UnixNano(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
