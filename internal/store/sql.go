package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(s)) {
	case SQLite:
		return SQLite, nil
	case Postgres, "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unknown database type %q (want sqlite or postgres)", s)
}

func (d Dialect) driver() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// SQL is a Store over database/sql. Each kind lives in its own table with
// the JSON body and a few indexed columns for sorting.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	log     zerolog.Logger
}

const (
	maxRetries = 10
	retryDelay = 2 * time.Second
	pingTTL    = 5 * time.Second
)

// Open connects, retrying while the database is unreachable, and creates
// the schema.
func Open(ctx context.Context, dialect Dialect, dsn string, log zerolog.Logger) (*SQL, error) {
	var db *sql.DB
	var err error
	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open(dialect.driver(), dsn)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, pingTTL)
			err = db.PingContext(pctx)
			cancel()
			if err == nil {
				break
			}
			_ = db.Close()
		}
		log.Warn().Err(err).Int("attempt", i).Str("dialect", string(dialect)).Msg("database not ready")
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("db open canceled: %w", ctx.Err())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("database unreachable after %d attempts: %w", maxRetries, err)
	}
	if dialect == SQLite {
		// one writer; also keeps ":memory:" a single database
		db.SetMaxOpenConns(1)
	}
	s := New(db, dialect, log)
	if err := s.CreateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB, dialect Dialect, log zerolog.Logger) *SQL {
	return &SQL{db: db, dialect: dialect, log: log.With().Str("component", "store").Logger()}
}

// CreateSchema creates every table. Safe to call repeatedly.
func (s *SQL) CreateSchema(ctx context.Context) error {
	kinds := make([]string, 0, len(schemas))
	for k := range schemas {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		for _, stmt := range schemas[k].ddl() {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $n for Postgres.
func (s *SQL) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQL) Insert(ctx context.Context, r Record) error {
	return s.insert(ctx, s.db, r)
}

func (s *SQL) insert(ctx context.Context, ex conn, r Record) error {
	sc, err := lookup(r.RecordKind())
	if err != nil {
		return err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", r.RecordKind(), r.RecordID(), err)
	}
	cols := []string{"id", "body"}
	args := []any{r.RecordID(), string(body)}
	for _, c := range sc.columns {
		cols = append(cols, c.name)
		args = append(args, c.value(r))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", sc.table, strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	if _, err := ex.ExecContext(ctx, s.rebind(q), args...); err != nil {
		if s.exists(ctx, ex, sc, r.RecordID()) {
			return fmt.Errorf("%w: %s %s", ErrExists, r.RecordKind(), r.RecordID())
		}
		return fmt.Errorf("insert %s %s: %w", r.RecordKind(), r.RecordID(), err)
	}
	return nil
}

func (s *SQL) exists(ctx context.Context, ex conn, sc schema, id string) bool {
	var one int
	err := ex.QueryRowContext(ctx, s.rebind("SELECT 1 FROM "+sc.table+" WHERE id = ?"), id).Scan(&one)
	return err == nil
}

func (s *SQL) Update(ctx context.Context, r Record) error {
	sc, err := lookup(r.RecordKind())
	if err != nil {
		return err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", r.RecordKind(), r.RecordID(), err)
	}
	sets := []string{"body = ?"}
	args := []any{string(body)}
	for _, c := range sc.columns {
		sets = append(sets, c.name+" = ?")
		args = append(args, c.value(r))
	}
	args = append(args, r.RecordID())
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", sc.table, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", r.RecordKind(), r.RecordID(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, r.RecordKind(), r.RecordID())
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, kind, id string) error {
	sc, err := lookup(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM "+sc.table+" WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}

func (s *SQL) Query(ctx context.Context, kind string, keys ...SortKey) ([]Record, error) {
	sc, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	order, err := sc.orderBy(keys)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM "+sc.table+order)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		r, err := sc.decode([]byte(body))
		if err != nil {
			s.log.Warn().Err(err).Str("kind", kind).Msg("skipping undecodable record")
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Replace deletes every record of kind and inserts records, atomically.
func (s *SQL) Replace(ctx context.Context, kind string, records []Record) error {
	sc, err := lookup(kind)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace %s: %w", kind, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+sc.table); err != nil {
		return fmt.Errorf("replace %s: %w", kind, err)
	}
	for _, r := range records {
		if r.RecordKind() != kind {
			return fmt.Errorf("replace %s: got a %s record", kind, r.RecordKind())
		}
		if err := s.insert(ctx, tx, r); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace %s: %w", kind, err)
	}
	return nil
}

var _ Replacer = (*SQL)(nil)
