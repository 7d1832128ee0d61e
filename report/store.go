// Package report persists virtualization runs in a SQLite database.
package report

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/veil/pkg/avm"
	"github.com/chazu/veil/virtualize"
)

// ErrRunNotFound indicates the requested run doesn't exist
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	module      TEXT NOT NULL,
	seed        INTEGER NOT NULL,
	created_at  INTEGER NOT NULL, -- unix nanoseconds
	processed   INTEGER NOT NULL,
	virtualized INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	translated  INTEGER NOT NULL,
	emitted     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS outcomes (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	function     TEXT NOT NULL,
	status       INTEGER NOT NULL,
	reason       TEXT NOT NULL,
	instructions INTEGER NOT NULL,
	bytecode     INTEGER NOT NULL,
	registers    INTEGER NOT NULL,
	seed         INTEGER NOT NULL,
	program      BLOB,
	PRIMARY KEY (run_id, seq)
);`

// Run is one recorded invocation of the virtualize pass.
type Run struct {
	ID       string
	Module   string
	Seed     int64
	Created  time.Time
	Stats    virtualize.Stats
	Outcomes []virtualize.Outcome
	Programs map[string]*avm.Program
}

// NewRun captures a pass result under a fresh run ID.
func NewRun(module string, seed int64, res *virtualize.Result) *Run {
	r := &Run{
		ID:       uuid.New().String(),
		Module:   module,
		Seed:     seed,
		Created:  time.Now().UTC(),
		Programs: make(map[string]*avm.Program),
	}
	if res != nil {
		r.Stats = res.Stats
		r.Outcomes = append(r.Outcomes, res.Outcomes...)
		for name, p := range res.Programs {
			r.Programs[name] = p
		}
	}
	return r
}

// Store handles SQLite storage for runs
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens or creates the report database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save persists a run. Programs are stored as CBOR blobs on the outcome
// row of the function they were installed into.
func (s *Store) Save(r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	st := r.Stats
	_, err = tx.Exec(`INSERT INTO runs
		(id, module, seed, created_at, processed, virtualized, skipped, failed, translated, emitted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Module, r.Seed, r.Created.UnixNano(),
		st.FunctionsProcessed, st.FunctionsVirtualized, st.FunctionsSkipped, st.FunctionsFailed,
		st.InstructionsTranslated, st.BytecodeEmitted)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	for i, o := range r.Outcomes {
		var blob []byte
		if p, ok := r.Programs[o.Function]; ok && o.Status == virtualize.StatusVirtualized {
			if blob, err = avm.MarshalProgram(p); err != nil {
				return fmt.Errorf("encoding program %s: %w", o.Function, err)
			}
		}
		_, err = tx.Exec(`INSERT INTO outcomes
			(run_id, seq, function, status, reason, instructions, bytecode, registers, seed, program)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, o.Function, int(o.Status), o.Reason, o.Instructions, o.Bytecode, o.Registers, o.Seed, blob)
		if err != nil {
			return fmt.Errorf("saving outcome %s: %w", o.Function, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// Load retrieves a run with its outcomes and programs.
func (s *Store) Load(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Run{ID: id, Programs: make(map[string]*avm.Program)}
	var created int64
	st := &r.Stats
	err := s.db.QueryRow(`SELECT module, seed, created_at, processed, virtualized, skipped, failed, translated, emitted
		FROM runs WHERE id = ?`, id).Scan(
		&r.Module, &r.Seed, &created,
		&st.FunctionsProcessed, &st.FunctionsVirtualized, &st.FunctionsSkipped, &st.FunctionsFailed,
		&st.InstructionsTranslated, &st.BytecodeEmitted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	r.Created = time.Unix(0, created).UTC()

	rows, err := s.db.Query(`SELECT function, status, reason, instructions, bytecode, registers, seed, program
		FROM outcomes WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o virtualize.Outcome
		var status int
		var blob []byte
		if err := rows.Scan(&o.Function, &status, &o.Reason, &o.Instructions, &o.Bytecode, &o.Registers, &o.Seed, &blob); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.Status = virtualize.Status(status)
		if len(blob) > 0 {
			p, err := avm.UnmarshalProgram(blob)
			if err != nil {
				return nil, fmt.Errorf("decoding program %s: %w", o.Function, err)
			}
			r.Programs[o.Function] = p
		}
		r.Outcomes = append(r.Outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading outcomes: %w", err)
	}
	return r, nil
}

// Summary is a run without its outcomes.
type Summary struct {
	ID      string
	Module  string
	Seed    int64
	Created time.Time
	Stats   virtualize.Stats
}

// List returns the summaries of all runs, newest first.
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, module, seed, created_at, processed, virtualized, skipped, failed, translated, emitted
		FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var created int64
		st := &sm.Stats
		if err := rows.Scan(&sm.ID, &sm.Module, &sm.Seed, &created,
			&st.FunctionsProcessed, &st.FunctionsVirtualized, &st.FunctionsSkipped, &st.FunctionsFailed,
			&st.InstructionsTranslated, &st.BytecodeEmitted); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		sm.Created = time.Unix(0, created).UTC()
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Delete removes a run and its outcomes.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}
