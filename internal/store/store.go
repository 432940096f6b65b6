package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jward/sprout/internal/intern"
	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/usage"
)

// ErrPersist is returned when a commit could not be written to disk. The
// committed snapshot is unchanged and the store should be rebuilt.
var ErrPersist = errors.New("store: persist failed")

// ErrTransactionOpen is returned by operations that need exclusive access
// while a transaction is open.
var ErrTransactionOpen = errors.New("store: transaction open")

// Store is the dependency graph: SQLite for persistence, plus the last
// committed snapshot held in memory for lock-free reads.
type Store struct {
	db  *sql.DB
	ctx *model.Context

	snap atomic.Pointer[Snapshot]

	mu        sync.Mutex
	open      *Transaction
	recovered bool
}

// Open opens (creating if needed) the store at dbPath and loads its
// committed state, interning into ctx. A store written in another format
// version, or one that fails to decode, is wiped; Recovered then reports
// true so the caller can schedule a full rebuild.
func Open(dbPath string, ctx *model.Context) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, ctx: ctx}
	s.snap.Store(emptySnapshot())

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.load(); err != nil {
		if werr := s.wipe(); werr != nil {
			db.Close()
			return nil, fmt.Errorf("wipe after %v: %w", err, werr)
		}
		s.recovered = true
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Context returns the interning context the store decodes into.
func (s *Store) Context() *model.Context { return s.ctx }

// Snapshot returns the last committed snapshot.
func (s *Store) Snapshot() *Snapshot { return s.snap.Load() }

// Units returns every committed unit, sorted.
func (s *Store) Units() []string { return s.Snapshot().Units() }

// Recovered reports whether the committed graph was lost: the store was
// unreadable on open or a Reset could not wipe it. A successful Reset
// clears the flag.
func (s *Store) Recovered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovered
}

// GetMetadata returns the value stored under key, or "" if none is.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores value under key. The format version key is reserved.
func (s *Store) SetMetadata(key, value string) error {
	if key == versionKey {
		return fmt.Errorf("set metadata: %s is reserved", key)
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS units (
  id              TEXT PRIMARY KEY,
  hash            TEXT NOT NULL DEFAULT '',
  scanned_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS declarations (
  entity          TEXT PRIMARY KEY,
  unit            TEXT NOT NULL,
  record          BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS usages (
  unit            TEXT NOT NULL,
  user            TEXT NOT NULL,
  symbol          TEXT NOT NULL,
  kinds           INTEGER NOT NULL,
  PRIMARY KEY (unit, user, symbol)
);

CREATE INDEX IF NOT EXISTS idx_declarations_unit ON declarations(unit);
CREATE INDEX IF NOT EXISTS idx_usages_symbol ON usages(symbol);
`

const versionKey = "format_version"

// migrate creates all tables and indexes and stamps a fresh database with
// the current format version. Idempotent.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO metadata (key, value) VALUES (?, ?)`,
		versionKey, strconv.Itoa(model.FormatVersion))
	if err != nil {
		return fmt.Errorf("migrate: stamp version: %w", err)
	}
	return nil
}

// load reads the committed state into a new snapshot.
func (s *Store) load() error {
	var version string
	if err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, versionKey).Scan(&version); err != nil {
		return fmt.Errorf("load: read version: %w", err)
	}
	if version != strconv.Itoa(model.FormatVersion) {
		return fmt.Errorf("load: format version %s, want %d", version, model.FormatVersion)
	}

	snap := emptySnapshot()

	rows, err := s.db.Query(`SELECT id, hash, scanned_at FROM units`)
	if err != nil {
		return fmt.Errorf("load units: %w", err)
	}
	for rows.Next() {
		var (
			id, hash  string
			scannedAt sql.NullTime
		)
		if err := rows.Scan(&id, &hash, &scannedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan unit: %w", err)
		}
		snap.units[id] = UnitInfo{Hash: hash, ScannedAt: scannedAt.Time}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load units: %w", err)
	}

	rows, err = s.db.Query(`SELECT entity, unit, record FROM declarations`)
	if err != nil {
		return fmt.Errorf("load declarations: %w", err)
	}
	for rows.Next() {
		var (
			entity, unit string
			record       []byte
		)
		if err := rows.Scan(&entity, &unit, &record); err != nil {
			rows.Close()
			return fmt.Errorf("scan declaration: %w", err)
		}
		d, err := model.DecodeDeclaration(s.ctx, record)
		if err != nil {
			rows.Close()
			return fmt.Errorf("decode declaration %q: %w", entity, err)
		}
		if _, ok := snap.units[unit]; !ok {
			rows.Close()
			return fmt.Errorf("declaration %q owned by unknown unit %q", entity, unit)
		}
		snap.own(unit, s.ctx.Intern(entity), d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load declarations: %w", err)
	}

	rows, err = s.db.Query(`SELECT unit, user, symbol, kinds FROM usages ORDER BY unit`)
	if err != nil {
		return fmt.Errorf("load usages: %w", err)
	}
	var cur *usage.Cluster
	flush := func() {
		if cur != nil {
			usage.SortEdges(cur.Edges)
			snap.indexCluster(cur)
		}
	}
	for rows.Next() {
		var (
			unit, user, symbol string
			kinds              int64
		)
		if err := rows.Scan(&unit, &user, &symbol, &kinds); err != nil {
			rows.Close()
			return fmt.Errorf("scan usage: %w", err)
		}
		if kinds <= 0 || kinds > 0xff {
			rows.Close()
			return fmt.Errorf("usage %s -> %s: bad kinds %d", user, symbol, kinds)
		}
		if _, ok := snap.units[unit]; !ok {
			rows.Close()
			return fmt.Errorf("usage %s -> %s in unknown unit %q", user, symbol, unit)
		}
		if cur == nil || cur.Unit != unit {
			flush()
			cur = &usage.Cluster{Unit: unit}
		}
		cur.Edges = append(cur.Edges, usage.Edge{
			User:  s.ctx.Intern(user),
			Used:  s.ctx.Intern(symbol),
			Kinds: usage.KindSet(kinds),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load usages: %w", err)
	}
	flush()

	s.snap.Store(snap)
	return nil
}

// wipe drops every row and restamps the format version.
func (s *Store) wipe() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("wipe: begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM usages`,
		`DELETE FROM declarations`,
		`DELETE FROM units`,
		`DELETE FROM metadata`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("wipe: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO metadata (key, value) VALUES (?, ?)`, versionKey, strconv.Itoa(model.FormatVersion)); err != nil {
		return fmt.Errorf("wipe: stamp version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("wipe: commit: %w", err)
	}
	s.snap.Store(emptySnapshot())
	return nil
}

// Reset discards the whole graph. It fails if a transaction is open. When
// the database cannot be wiped the in-memory graph is still dropped and
// the store reports Recovered until a later Reset succeeds.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open != nil {
		return ErrTransactionOpen
	}
	if err := s.wipe(); err != nil {
		s.snap.Store(emptySnapshot())
		s.recovered = true
		return err
	}
	s.recovered = false
	return nil
}

// Begin opens the round's transaction. Only one transaction may be open at
// a time; a second Begin is a programmer error.
func (s *Store) Begin() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open != nil {
		panic("store: Begin while another transaction is open")
	}
	tx := newTransaction(s, s.snap.Load())
	s.open = tx
	return tx
}

func (s *Store) release(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == tx {
		s.open = nil
	}
}

func (s *Store) entityName(e intern.Handle) string { return s.ctx.Resolve(e) }

func nowUTC() time.Time { return time.Now().UTC().Truncate(time.Second) }
