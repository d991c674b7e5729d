package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rolltrack/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLStore persists documents in a single SQL table on SQLite or PostgreSQL.
// With verify enabled every committed write is read back and byte-compared.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	driver  string
	verify  bool
}

func OpenSQLite(path string, verify bool) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	s := &SQLStore{db: sqlDB, dialect: sqliteDialect{}, driver: "sqlite", verify: verify}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func OpenPostgres(cfg *config.PostgresConfig, verify bool) (*SQLStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &SQLStore{db: sqlDB, dialect: postgresDialect{}, driver: "postgres", verify: verify}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Kind() string { return s.driver }
func (s *SQLStore) Close() error { return s.db.Close() }

// Q rewrites ? placeholders and datetime literals for PostgreSQL, passes through for SQLite.
func (s *SQLStore) Q(query string) string {
	if s.driver == "postgres" {
		query = strings.ReplaceAll(query, "datetime('now','localtime')", "NOW()")
		return Rebind(query)
	}
	return query
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(schemaFor(s.dialect))
	return err
}

func (s *SQLStore) ReadCollection(ctx context.Context, name string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, s.Q(`SELECT id, body FROM documents WHERE collection=? ORDER BY id`), name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		docs = append(docs, Document{ID: id, Body: []byte(body)})
	}
	return docs, rows.Err()
}

func (s *SQLStore) WriteCollection(ctx context.Context, name string, docs []Document) error {
	if err := validateDocs(name, docs); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.Q(`DELETE FROM documents WHERE collection=?`), name); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	for _, d := range docs {
		if err := s.insert(ctx, tx, name, d); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	if !s.verify {
		return nil
	}
	want := make(map[docKey][]byte, len(docs))
	for _, d := range docs {
		want[docKey{name, d.ID}] = []byte(d.Body)
	}
	if err := s.verifyState(ctx, want); err != nil {
		return err
	}
	n, err := s.count(ctx, name)
	if err != nil {
		return err
	}
	if n != len(docs) {
		return fmt.Errorf("%w: %s holds %d documents, wrote %d", ErrVerifyMismatch, name, n, len(docs))
	}
	return nil
}

func (s *SQLStore) BatchWrite(ctx context.Context, ops []Op) error {
	if err := validateOps(ops); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		switch op.Kind {
		case OpAdd:
			exists, err := s.exists(ctx, tx, op.Collection, op.Doc.ID)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("add %s/%s: %w", op.Collection, op.Doc.ID, ErrExists)
			}
			if err := s.insert(ctx, tx, op.Collection, op.Doc); err != nil {
				return err
			}
		case OpUpdate:
			res, err := tx.ExecContext(ctx, s.Q(`UPDATE documents SET body=?, updated_at=datetime('now','localtime') WHERE collection=? AND id=?`),
				string(op.Doc.Body), op.Collection, op.Doc.ID)
			if err != nil {
				return fmt.Errorf("update %s/%s: %w", op.Collection, op.Doc.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("update %s/%s: %w", op.Collection, op.Doc.ID, err)
			}
			if n == 0 {
				return fmt.Errorf("update %s/%s: %w", op.Collection, op.Doc.ID, ErrMissing)
			}
		case OpDelete:
			if _, err := tx.ExecContext(ctx, s.Q(`DELETE FROM documents WHERE collection=? AND id=?`), op.Collection, op.Doc.ID); err != nil {
				return fmt.Errorf("delete %s/%s: %w", op.Collection, op.Doc.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	if s.verify {
		return s.verifyState(ctx, finalState(ops))
	}
	return nil
}

func (s *SQLStore) insert(ctx context.Context, tx *sql.Tx, collection string, d Document) error {
	_, err := tx.ExecContext(ctx, s.Q(`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`),
		collection, d.ID, string(d.Body))
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", collection, d.ID, err)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, tx *sql.Tx, collection, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, s.Q(`SELECT 1 FROM documents WHERE collection=? AND id=?`), collection, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s/%s: %w", collection, id, err)
	}
	return true, nil
}

func (s *SQLStore) count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.Q(`SELECT COUNT(*) FROM documents WHERE collection=?`), collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// verifyState re-reads every key in want. A nil body must be absent,
// anything else must match byte for byte.
func (s *SQLStore) verifyState(ctx context.Context, want map[docKey][]byte) error {
	for k, body := range want {
		var got string
		err := s.db.QueryRowContext(ctx, s.Q(`SELECT body FROM documents WHERE collection=? AND id=?`), k.collection, k.id).Scan(&got)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if body != nil {
				return fmt.Errorf("%w: %s/%s missing after write", ErrVerifyMismatch, k.collection, k.id)
			}
		case err != nil:
			return fmt.Errorf("verify %s/%s: %w", k.collection, k.id, err)
		case body == nil:
			return fmt.Errorf("%w: %s/%s still present after delete", ErrVerifyMismatch, k.collection, k.id)
		case !bytes.Equal([]byte(got), body):
			return fmt.Errorf("%w: %s/%s", ErrVerifyMismatch, k.collection, k.id)
		}
	}
	return nil
}
