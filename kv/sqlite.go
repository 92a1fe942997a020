package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const scanPageSize = 100

// SQLite stores slices in a single (pk, sk) table with JSON attributes.
// Secondary indexes are SQLite expression indexes over json_extract.
type SQLite struct {
	db      *sql.DB
	indexes map[string]string
}

// OpenSQLite opens (or creates) the database at path, ensures the data
// directory exists, and creates the table and declared indexes.
func OpenSQLite(path string, indexes ...Index) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	// Immediate transactions take the write lock up front so the
	// read-check-write of a conditional update cannot interleave with
	// another process.
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// WAL lets the admin API read while a publish run writes; writers wait
	// on the busy timeout before surfacing SQLITE_BUSY as throttling.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA cache_size=-8000;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db, indexes: make(map[string]string, len(indexes))}
	for _, ix := range indexes {
		if err := ix.validate(); err != nil {
			db.Close()
			return nil, err
		}
		s.indexes[ix.Name] = ix.Attr
	}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ensureSchema() error {
	if _, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS slices (
    pk TEXT NOT NULL,
    sk TEXT NOT NULL,
    attrs TEXT NOT NULL,
    PRIMARY KEY (pk, sk)
) WITHOUT ROWID;
`); err != nil {
		return err
	}
	for name, attr := range s.indexes {
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_slices_%s ON slices(json_extract(attrs, '$.%s'))`, name, attr)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key Key) (Row, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT attrs FROM slices WHERE pk = ? AND sk = ?`, key.PK, key.SK).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, classify(err)
	}
	attrs, err := decodeAttrs(raw)
	if err != nil {
		return Row{}, false, err
	}
	return Row{Key: key, Attrs: attrs}, true, nil
}

func (s *SQLite) Put(ctx context.Context, row Row, conds ...Condition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if len(conds) > 0 {
			current, exists, err := txGet(ctx, tx, row.Key)
			if err != nil {
				return err
			}
			if err := checkConditions(conds, current, exists); err != nil {
				return err
			}
		}
		return txPut(ctx, tx, row.Key, row.Attrs)
	})
}

func (s *SQLite) Update(ctx context.Context, key Key, attrs map[string]any, conds ...Condition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, exists, err := txGet(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := checkConditions(conds, current, exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return txPut(ctx, tx, key, mergeAttrs(current, attrs))
	})
}

func (s *SQLite) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM slices WHERE pk = ? AND sk = ?`, key.PK, key.SK)
	return classify(err)
}

func (s *SQLite) Query(ctx context.Context, pk, skPrefix string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pk, sk, attrs FROM slices WHERE pk = ?1 AND substr(sk, 1, length(?2)) = ?2 ORDER BY sk`,
		pk, skPrefix)
	if err != nil {
		return nil, classify(err)
	}
	return scanRows(rows)
}

func (s *SQLite) QueryIndex(ctx context.Context, index, value string) ([]Row, error) {
	attr, ok := s.indexes[index]
	if !ok {
		return nil, fmt.Errorf("kv: unknown index %q", index)
	}
	// The expression must match the index definition for SQLite to use it.
	q := fmt.Sprintf(`SELECT pk, sk, attrs FROM slices WHERE json_extract(attrs, '$.%s') = ? ORDER BY pk, sk`, attr)
	rows, err := s.db.QueryContext(ctx, q, value)
	if err != nil {
		return nil, classify(err)
	}
	return scanRows(rows)
}

func (s *SQLite) ScanAll(ctx context.Context) ([]Row, error) {
	var out []Row
	lastPK, lastSK := "", ""
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT pk, sk, attrs FROM slices WHERE (pk, sk) > (?, ?) ORDER BY pk, sk LIMIT ?`,
			lastPK, lastSK, scanPageSize)
		if err != nil {
			return nil, classify(err)
		}
		page, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < scanPageSize {
			return out, nil
		}
		last := page[len(page)-1]
		lastPK, lastSK = last.PK, last.SK
	}
}

func (s *SQLite) BatchPut(ctx context.Context, rows []Row) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			if err := txPut(ctx, tx, r.Key, r.Attrs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) BatchDelete(ctx context.Context, keys []Key) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM slices WHERE pk = ? AND sk = ?`, k.PK, k.SK); err != nil {
				return classify(err)
			}
		}
		return nil
	})
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return classify(tx.Commit())
}

func txGet(ctx context.Context, tx *sql.Tx, key Key) (map[string]any, bool, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT attrs FROM slices WHERE pk = ? AND sk = ?`, key.PK, key.SK).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	attrs, err := decodeAttrs(raw)
	return attrs, err == nil, err
}

func txPut(ctx context.Context, tx *sql.Tx, key Key, attrs map[string]any) error {
	raw, err := json.Marshal(mergeAttrs(nil, attrs))
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO slices (pk, sk, attrs) VALUES (?, ?, ?)`, key.PK, key.SK, string(raw))
	return classify(err)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var pk, sk, raw string
		if err := rows.Scan(&pk, &sk, &raw); err != nil {
			return nil, classify(err)
		}
		attrs, err := decodeAttrs(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Row{Key: Key{PK: pk, SK: sk}, Attrs: attrs})
	}
	return out, classify(rows.Err())
}

// decodeAttrs keeps numbers as json.Number so millisecond timestamps
// survive without float formatting.
func decodeAttrs(raw string) (map[string]any, error) {
	attrs := make(map[string]any)
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("kv: decode attrs: %w", err)
	}
	return attrs, nil
}

// classify maps SQLite lock contention onto ErrThroughputExceeded.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", ErrThroughputExceeded, err)
	}
	return err
}
