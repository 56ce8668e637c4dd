package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ellen/internal/domain"
	"ellen/internal/logging"
	"ellen/internal/repository"
)

// FileName is the database file created in the output directory
const FileName = "ellen.sqlite"

// timestampLayout is how event times are stored. Fixed width so that text
// comparison orders the same way as time.
const timestampLayout = "2006-01-02 15:04:05.000000"

// The table and column names match databases written by earlier releases
const schema = `
CREATE TABLE IF NOT EXISTS bapdata (
	"Id" INTEGER PRIMARY KEY AUTOINCREMENT,
	"BapId" INTEGER NOT NULL UNIQUE,
	"PersonName" TEXT
);

CREATE TABLE IF NOT EXISTS ivardata (
	"Id" INTEGER PRIMARY KEY AUTOINCREMENT,
	"GorillaId" TEXT NOT NULL UNIQUE,
	"Timestamp" TEXT NOT NULL,
	"EventType" TEXT NOT NULL,
	"PersonId" INTEGER,
	"Confidence" REAL,
	"ImageData" BLOB,
	"FullBlob" TEXT,
	FOREIGN KEY ("PersonId") REFERENCES bapdata("BapId")
);

CREATE INDEX IF NOT EXISTS idx_ivardata_timestamp ON ivardata("Timestamp");
`

// Store implements repository.Store on a single SQLite file
type Store struct {
	opts repository.Options

	db     *sql.DB
	dbPath string
}

var _ repository.Store = (*Store)(nil)

// New creates an unconfigured relational store
func New() *Store {
	return &Store{opts: repository.DefaultOptions()}
}

// Kind returns repository.KindRelational
func (s *Store) Kind() repository.Kind {
	return repository.KindRelational
}

// Configure replaces the store options. A changed output directory takes
// effect on the next Ensure.
func (s *Store) Configure(opts repository.Options) {
	s.opts = opts
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.opts.PathFor(FileName)
}

// Ensure opens the database, creating the file and tables when missing.
// A file that is not a readable database is removed and recreated.
func (s *Store) Ensure(ctx context.Context) (bool, error) {
	path := s.Path()

	// Drop the cached handle if the file moved or the output directory changed
	if s.db != nil && (s.dbPath != path || !fileExists(path)) {
		s.closeDB()
	}

	created := false
	if s.db == nil {
		if fileExists(path) {
			db, err := open(path)
			if err == nil {
				err = verify(ctx, db)
			}
			if err != nil {
				if db != nil {
					db.Close()
				}
				logging.Warn().Err(err).Str("path", path).Msg("database unreadable, recreating")
				if err := os.Remove(path); err != nil {
					return false, fmt.Errorf("failed to remove corrupt database: %w", errors.Join(repository.ErrCorruptStore, err))
				}
			} else {
				s.db, s.dbPath = db, path
			}
		}

		if s.db == nil {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return false, fmt.Errorf("failed to create output directory: %w", err)
			}
			db, err := open(path)
			if err != nil {
				return false, err
			}
			s.db, s.dbPath = db, path
			created = true
		}
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return created, fmt.Errorf("failed to migrate database: %w", err)
	}

	if created {
		logging.Info().Str("path", path).Msg("created database")
	}
	return created, nil
}

// UpsertCandidates inserts unknown candidates in one transaction. Known ids
// keep their stored display name.
func (s *Store) UpsertCandidates(ctx context.Context, candidates []domain.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO bapdata ("BapId", "PersonName") VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare candidate insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candidates {
		if _, err := stmt.ExecContext(ctx, c.ID, stringToNull(c.DisplayName)); err != nil {
			return fmt.Errorf("failed to insert candidate %d: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// AppendEvent inserts one event row
func (s *Store) AppendEvent(ctx context.Context, event *domain.Event) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO ivardata ("GorillaId", "Timestamp", "EventType", "PersonId", "Confidence", "ImageData", "FullBlob")
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, eventInsertArgs(event, s.opts)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %s: %w", event.ID, repository.ErrDuplicateEvent)
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Prune deletes the oldest rows beyond the record limit, then every row at
// or before the age cutoff. Both deletes share one transaction.
func (s *Store) Prune(ctx context.Context) (repository.PruneResult, error) {
	var result repository.PruneResult
	if _, err := s.Ensure(ctx); err != nil {
		return result, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	policy := s.opts.Retention

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ivardata`).Scan(&count); err != nil {
		return result, fmt.Errorf("failed to count events: %w", err)
	}

	if excess := policy.Excess(count); excess > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM ivardata WHERE "Id" IN (
				SELECT "Id" FROM ivardata ORDER BY "Id" ASC LIMIT ?
			)
		`, excess)
		if err != nil {
			return result, fmt.Errorf("failed to prune by count: %w", err)
		}
		n, _ := res.RowsAffected()
		result.Removed += int(n)
	}

	if cutoff, ok := policy.Cutoff(s.opts.Now()); ok {
		res, err := tx.ExecContext(ctx, `DELETE FROM ivardata WHERE "Timestamp" <= ?`, formatTimestamp(cutoff, s.opts.TimeZone))
		if err != nil {
			return result, fmt.Errorf("failed to prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		result.Removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit prune: %w", err)
	}

	if result.Removed > 0 {
		logging.Info().Int("removed", result.Removed).Str("path", s.dbPath).Msg("pruned events")
	}
	return result, nil
}

// Count returns the number of stored events
func (s *Store) Count(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ivardata`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Events returns every stored event in insertion order
func (s *Store) Events(ctx context.Context) ([]StoredEvent, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+eventColumns+` FROM ivardata ORDER BY "Id" ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(r.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev, err := r.toStored(s.opts.TimeZone)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Candidates returns the registry in insertion order
func (s *Store) Candidates(ctx context.Context) ([]domain.Candidate, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT "BapId", "PersonName" FROM bapdata ORDER BY "Id" ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var (
			id   int64
			name sql.NullString
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, domain.Candidate{ID: id, DisplayName: nullToString(name)})
	}
	return out, rows.Err()
}

// Close releases the cached connection
func (s *Store) Close() error {
	return s.closeDB()
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db, s.dbPath = nil, ""
	return err
}

// handle returns the open connection, or ErrStoreMissing when the store was
// never ensured or its file has gone away.
func (s *Store) handle() (*sql.DB, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized: %w", repository.ErrStoreMissing)
	}
	if !fileExists(s.dbPath) {
		s.closeDB()
		return nil, fmt.Errorf("database file vanished: %w", repository.ErrStoreMissing)
	}
	return s.db, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer process, one connection
	db.SetMaxOpenConns(1)
	return db, nil
}

// verify forces a read of the file header
func verify(ctx context.Context, db *sql.DB) error {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master`).Scan(&n); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrCorruptStore, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqliteErr.Error(), "UNIQUE")
		}
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
