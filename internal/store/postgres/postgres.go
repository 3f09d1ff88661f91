// Package postgres is a store.Store backed by a single JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/store"
)

const DefaultTable = "mirror_records"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// overloadCodes are SQLSTATEs that clear up on their own: serialization
// failures, deadlocks, connection limits and lock timeouts.
var overloadCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"53000": true,
	"53300": true,
	"55P03": true,
	"57P03": true,
}

type Store struct {
	db       *sql.DB
	table    string
	pageSize int

	schemaOnce sync.Once
	schemaErr  error
}

// Open connects to dsn. table defaults to DefaultTable.
func Open(ctx context.Context, dsn, table string, pageSize int) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := New(db, table, pageSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database.
func New(db *sql.DB, table string, pageSize int) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if pageSize < 1 {
		pageSize = store.DefaultPageSize
	}
	return &Store{db: db, table: table, pageSize: pageSize}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id TEXT PRIMARY KEY,
  data JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_data_idx ON %[1]s USING GIN (data jsonb_path_ops);
`, s.table))
	})
	return s.schemaErr
}

func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, classify("postgres.has", err)
	}
	var one int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1`, s.table), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("postgres.has", err)
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, classify("postgres.get", err)
	}
	var data string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data::text FROM %s WHERE id = $1`, s.table), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("postgres.get", err)
	}
	return decode(data)
}

func (s *Store) Put(ctx context.Context, rec store.Record) error {
	if rec.ID() == "" {
		return core.E("postgres.put", core.Other, errors.New("record has no id"))
	}
	if err := s.ensureSchema(ctx); err != nil {
		return classify("postgres.put", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return core.E("postgres.put", core.Other, err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, data) VALUES ($1, $2::text::jsonb)
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, s.table), rec.ID(), string(data))
	return classify("postgres.put", err)
}

func (s *Store) Incr(ctx context.Context, rec store.Record, field string, delta int64) (int64, error) {
	if rec.ID() == "" {
		return 0, core.E("postgres.incr", core.Other, errors.New("record has no id"))
	}
	if err := s.ensureSchema(ctx); err != nil {
		return 0, classify("postgres.incr", err)
	}
	init := make(store.Record, len(rec)+1)
	for k, v := range rec {
		init[k] = v
	}
	init[field] = delta
	data, err := json.Marshal(init)
	if err != nil {
		return 0, core.E("postgres.incr", core.Other, err)
	}
	var n int64
	err = s.db.QueryRowContext(ctx, incrQuery(s.table), rec.ID(), string(data), field, delta).Scan(&n)
	return n, classify("postgres.incr", err)
}

// incrQuery upserts the record and bumps one numeric field in a single
// statement.
func incrQuery(table string) string {
	return fmt.Sprintf(`INSERT INTO %[1]s (id, data) VALUES ($1, $2::text::jsonb)
ON CONFLICT (id) DO UPDATE SET data = jsonb_set(%[1]s.data, ARRAY[$3::text],
	to_jsonb(COALESCE((%[1]s.data->>$3::text)::bigint, 0) + $4::bigint))
RETURNING (data->>$3::text)::bigint`, table)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.Deletes(ctx, []string{id})
}

func (s *Store) Deletes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return classify("postgres.delete", err)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table), ids)
	return classify("postgres.delete", err)
}

func (s *Store) Find(ctx context.Context, c store.Criteria, cursor string) (*store.Page, error) {
	return s.Search(ctx, c, nil, "", cursor)
}

func (s *Store) Search(ctx context.Context, c store.Criteria, fields []string, text, cursor string) (*store.Page, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, classify("postgres.find", err)
	}

	q := &query{}
	where, err := q.where(c)
	if err != nil {
		return nil, core.E("postgres.find", core.Other, err)
	}
	if text != "" && len(fields) > 0 {
		where = "(" + where + ") AND " + q.text(fields, text)
	}

	page := &store.Page{}
	countSQL := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s`, s.table, where)
	if err := s.db.QueryRowContext(ctx, countSQL, q.args...).Scan(&page.Total); err != nil {
		return nil, classify("postgres.find", err)
	}

	rowsSQL := fmt.Sprintf(`SELECT id, data::text FROM %s WHERE (%s) AND id > %s ORDER BY id LIMIT %d`,
		s.table, where, q.arg(cursor), s.pageSize+1)
	rows, err := s.db.QueryContext(ctx, rowsSQL, q.args...)
	if err != nil {
		return nil, classify("postgres.find", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, classify("postgres.find", err)
		}
		if len(page.Rows) == s.pageSize {
			page.Cursor = page.Rows[len(page.Rows)-1].ID()
			break
		}
		rec, err := decode(data)
		if err != nil {
			return nil, err
		}
		page.Rows = append(page.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres.find", err)
	}
	page.Count = len(page.Rows)
	return page, nil
}

func decode(data string) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, core.E("postgres.decode", core.Other, err)
	}
	return rec, nil
}

// classify marks transient server conditions as core.Overload.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && overloadCodes[pgErr.Code] {
		return core.E(op, core.Overload, err)
	}
	if pgconn.Timeout(err) {
		return core.E(op, core.Overload, err)
	}
	return core.E(op, core.Other, err)
}
