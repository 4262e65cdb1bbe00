package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// Dialect selects placeholder style and DDL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// timeLayout is fixed width so that text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLChangeRequestStore stores each record as a JSON document next to the
// columns used for lookups and concurrency control.
type SQLChangeRequestStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLChangeRequestStore(db *sql.DB, dialect Dialect) *SQLChangeRequestStore {
	return &SQLChangeRequestStore{db: db, dialect: dialect}
}

// Init creates the schema if it does not exist.
func (s *SQLChangeRequestStore) Init(ctx context.Context) error {
	versionType := "INTEGER"
	if s.dialect == DialectPostgres {
		versionType = "BIGINT"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS change_requests (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_by TEXT NOT NULL,
			version ` + versionType + ` NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			document TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_change_requests_status ON change_requests (status)`,
		`CREATE INDEX IF NOT EXISTS idx_change_requests_created_by ON change_requests (created_by)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate change_requests: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLChangeRequestStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLChangeRequestStore) Get(ctx context.Context, id string) (*contracts.ChangeRequest, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT document FROM change_requests WHERE id = ?"), id)
	var doc string
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change request: %w", err)
	}
	return decode(doc)
}

func (s *SQLChangeRequestStore) FindByIDFragment(ctx context.Context, fragment string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT id FROM change_requests WHERE LOWER(id) LIKE ? ESCAPE '\\' ORDER BY id"),
		"%"+escapeLike(strings.ToLower(fragment))+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search change requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLChangeRequestStore) List(ctx context.Context, q ListQuery) ([]*contracts.ChangeRequest, error) {
	query := "SELECT document FROM change_requests"
	var where []string
	var args []any
	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if q.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, q.CreatedBy)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list change requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.ChangeRequest
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		cr, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func (s *SQLChangeRequestStore) MaxSequence(ctx context.Context) (int, error) {
	var highest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM change_requests").Scan(&highest); err != nil {
		return 0, fmt.Errorf("failed to read max sequence: %w", err)
	}
	return int(highest.Int64), nil
}

func (s *SQLChangeRequestStore) Insert(ctx context.Context, cr *contracts.ChangeRequest) error {
	seq, ok := ParseSequence(cr.ID)
	if !ok {
		return &contracts.ValidationError{Field: "id", Reason: fmt.Sprintf("malformed change request id %q", cr.ID)}
	}
	cr.Version = 1
	doc, err := json.Marshal(cr)
	if err != nil {
		return fmt.Errorf("failed to encode change request: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO change_requests
		(id, seq, status, created_by, version, created_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		cr.ID, seq, string(cr.Status), cr.CreatedBy, cr.Version,
		formatTime(cr.CreatedAt), formatTime(cr.UpdatedAt), string(doc))
	if err != nil {
		cr.Version = 0
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, cr.ID)
		}
		return fmt.Errorf("failed to insert change request: %w", err)
	}
	return nil
}

func (s *SQLChangeRequestStore) Update(ctx context.Context, cr *contracts.ChangeRequest, expectedVersion int64) error {
	next := *cr
	next.Version = expectedVersion + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode change request: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE change_requests
		SET status = ?, version = ?, updated_at = ?, document = ?
		WHERE id = ? AND version = ?`),
		string(next.Status), next.Version, formatTime(next.UpdatedAt), string(doc), cr.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update change request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update change request: %w", err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind("SELECT 1 FROM change_requests WHERE id = ?"), cr.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(cr.ID)
		}
		return fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, cr.ID, expectedVersion)
	}
	cr.Version = next.Version
	return nil
}

func decode(doc string) (*contracts.ChangeRequest, error) {
	var cr contracts.ChangeRequest
	if err := json.Unmarshal([]byte(doc), &cr); err != nil {
		return nil, fmt.Errorf("failed to decode change request: %w", err)
	}
	return &cr, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
