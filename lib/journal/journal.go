// Package journal records per-chunk execution statistics in SQLite.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/hybrid"
	"github.com/chazu/mettajit/pkg/tiered"
)

var log = commonlog.GetLogger("mettajit.journal")

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

// Entry is one recorded batch of runs of a chunk.
type Entry struct {
	ID       int64
	Chunk    bytecode.ChunkID
	Name     string
	Tier     tiered.Tier
	Runs     uint64
	JitRuns  uint64
	VMRuns   uint64
	Bailouts uint64
	Compiles uint64
	Failures uint64
	Recorded time.Time
}

// Journal handles SQLite storage for run statistics.
type Journal struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens or creates the journal at dbPath. Parent directories are
// created as needed; ":memory:" opens a private in-memory database.
func Open(dbPath string) (*Journal, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps an in-memory database alive and shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk TEXT NOT NULL,
		name TEXT NOT NULL,
		tier INTEGER NOT NULL,
		runs INTEGER NOT NULL,
		jit_runs INTEGER NOT NULL,
		vm_runs INTEGER NOT NULL,
		bailouts INTEGER NOT NULL,
		compiles INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		recorded INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS runs_chunk ON runs (chunk)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}

	log.Debugf("opened %s", dbPath)
	return &Journal{db: db, dbPath: dbPath}, nil
}

// Path returns the database path.
func (j *Journal) Path() string { return j.dbPath }

// Close closes the database connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Record stores the statistics of an executor that ran chunk. tier is the
// chunk's tier at the end of the batch.
func (j *Journal) Record(chunk *bytecode.Chunk, tier tiered.Tier, s hybrid.Stats) (Entry, error) {
	e := Entry{
		Chunk:    chunk.ID(),
		Name:     chunk.Name,
		Tier:     tier,
		Runs:     s.TotalRuns,
		JitRuns:  s.JitRuns,
		VMRuns:   s.VMRuns,
		Bailouts: s.Bailouts,
		Compiles: s.Compilations,
		Failures: s.CompileFailures,
		Recorded: time.Now().UTC().Truncate(time.Millisecond),
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return Entry{}, ErrClosed
	}

	res, err := j.db.Exec(
		`INSERT INTO runs (chunk, name, tier, runs, jit_runs, vm_runs, bailouts, compiles, failures, recorded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Chunk.String(), e.Name, int64(e.Tier), int64(e.Runs), int64(e.JitRuns), int64(e.VMRuns),
		int64(e.Bailouts), int64(e.Compiles), int64(e.Failures), e.Recorded.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("recording runs: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("recording runs: %w", err)
	}
	log.Debugf("recorded %s (%s): %d runs at %s", e.Name, e.Chunk, e.Runs, e.Tier)
	return e, nil
}

// History returns the entries of one chunk, oldest first.
func (j *Journal) History(id bytecode.ChunkID) ([]Entry, error) {
	return j.query("WHERE chunk = ? ORDER BY id", id.String())
}

// Recent returns up to n entries across all chunks, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	return j.query("ORDER BY id DESC LIMIT ?", n)
}

// Totals sums the runs recorded for a chunk.
func (j *Journal) Totals(id bytecode.ChunkID) (runs, jitRuns uint64, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return 0, 0, ErrClosed
	}
	var r, jr int64
	err = j.db.QueryRow(
		"SELECT COALESCE(SUM(runs), 0), COALESCE(SUM(jit_runs), 0) FROM runs WHERE chunk = ?",
		id.String(),
	).Scan(&r, &jr)
	if err != nil {
		return 0, 0, fmt.Errorf("summing runs: %w", err)
	}
	return uint64(r), uint64(jr), nil
}

func (j *Journal) query(clause string, args ...any) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, ErrClosed
	}

	rows, err := j.db.Query(
		"SELECT id, chunk, name, tier, runs, jit_runs, vm_runs, bailouts, compiles, failures, recorded FROM runs "+clause,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                                  Entry
			chunk                                              string
			tier, runs, jit, vm, bail, compiles, fails, millis int64
		)
		if err := rows.Scan(&e.ID, &chunk, &e.Name, &tier, &runs, &jit, &vm, &bail, &compiles, &fails, &millis); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		var id uint64
		if _, err := fmt.Sscanf(chunk, "%x", &id); err != nil {
			return nil, fmt.Errorf("bad chunk id %q: %w", chunk, err)
		}
		e.Chunk = bytecode.ChunkID(id)
		e.Tier = tiered.Tier(tier)
		e.Runs, e.JitRuns, e.VMRuns = uint64(runs), uint64(jit), uint64(vm)
		e.Bailouts, e.Compiles, e.Failures = uint64(bail), uint64(compiles), uint64(fails)
		e.Recorded = time.UnixMilli(millis).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
