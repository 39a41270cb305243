// Package cache stores compiled Dog bytecode in a SQLite database keyed by
// the hash of the source text, so unchanged scripts skip compilation.
package cache

import (
	"cmp"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/dpl/compiler"
	"github.com/chazu/dpl/compiler/hash"
	"github.com/chazu/dpl/vm"
)

var log = commonlog.GetLogger("dpl.cache")

// ErrNotFound indicates the cache holds no usable entry for a source.
var ErrNotFound = errors.New("cache entry not found")

// cborEncMode encodes entry metadata canonically so equal entries produce
// equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Entry describes one cached program.
type Entry struct {
	Key         string `cbor:"1,keyasint"`
	Path        string `cbor:"2,keyasint"`
	Version     int32  `cbor:"3,keyasint"`
	ProgramHash []byte `cbor:"4,keyasint"`
	Size        int    `cbor:"5,keyasint"`
	CompiledAt  int64  `cbor:"6,keyasint"` // unix milliseconds
	Compiler    string `cbor:"7,keyasint"` // compiler.BuildID of the writer
}

// Time returns when the entry was compiled.
func (e *Entry) Time() time.Time {
	return time.UnixMilli(e.CompiledAt)
}

// Cache is a bytecode cache backed by one SQLite file. It is safe for
// concurrent use.
type Cache struct {
	db    *sql.DB
	path  string
	build string
	mu    sync.Mutex
}

// Key returns the cache key for source text.
func Key(src []byte) string {
	return hash.Hex(hash.HashSource(src))
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key     TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		meta    BLOB NOT NULL,
		code    BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path, build: compiler.BuildID()}, nil
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the cached program for src. Entries written by another
// bytecode version or compiler build, or that no longer decode, are dropped
// and reported as ErrNotFound.
func (c *Cache) Get(src []byte) (*vm.Chunk, *Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(src)
	var (
		version int32
		meta    []byte
		code    []byte
	)
	err := c.db.QueryRow("SELECT version, meta, code FROM programs WHERE key = ?", key).
		Scan(&version, &meta, &code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("querying cache: %w", err)
	}

	if version != vm.BytecodeVersion {
		log.Infof("dropping %s: bytecode version %d", key[:12], version)
		return nil, nil, c.dropLocked(key)
	}

	var entry Entry
	if err := cbor.Unmarshal(meta, &entry); err != nil {
		log.Warningf("dropping %s: bad metadata: %v", key[:12], err)
		return nil, nil, c.dropLocked(key)
	}
	if entry.Compiler != c.build {
		log.Infof("dropping %s: compiled by %q", key[:12], entry.Compiler)
		return nil, nil, c.dropLocked(key)
	}

	chunk, err := vm.Deserialize(code)
	if err != nil {
		log.Warningf("dropping %s: %v", key[:12], err)
		return nil, nil, c.dropLocked(key)
	}
	if sum := hash.HashProgram(chunk); string(sum[:]) != string(entry.ProgramHash) {
		log.Warningf("dropping %s: program hash mismatch", key[:12])
		return nil, nil, c.dropLocked(key)
	}

	log.Debugf("cache hit %s (%s)", key[:12], entry.Path)
	return chunk, &entry, nil
}

// dropLocked deletes key and reports ErrNotFound.
func (c *Cache) dropLocked(key string) error {
	if _, err := c.db.Exec("DELETE FROM programs WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting stale entry: %w", err)
	}
	return ErrNotFound
}

// Put stores chunk as the compiled form of src. path is informational.
func (c *Cache) Put(path string, src []byte, chunk *vm.Chunk) (*Entry, error) {
	code, err := vm.Serialize(chunk)
	if err != nil {
		return nil, fmt.Errorf("serializing program: %w", err)
	}

	sum := hash.HashProgram(chunk)
	entry := &Entry{
		Key:         Key(src),
		Path:        path,
		Version:     vm.BytecodeVersion,
		ProgramHash: sum[:],
		Size:        len(code),
		CompiledAt:  time.Now().UnixMilli(),
		Compiler:    c.build,
	}
	meta, err := cborEncMode.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO programs (key, version, meta, code) VALUES (?, ?, ?, ?)",
		entry.Key, entry.Version, meta, code,
	)
	if err != nil {
		return nil, fmt.Errorf("saving program: %w", err)
	}

	log.Debugf("cached %s (%s, %d bytes)", entry.Key[:12], path, len(code))
	return entry, nil
}

// List returns all entries, most recently compiled first.
func (c *Cache) List() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query("SELECT meta FROM programs")
	if err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var meta []byte
		if err := rows.Scan(&meta); err != nil {
			return nil, fmt.Errorf("reading cache row: %w", err)
		}
		var e Entry
		if err := cbor.Unmarshal(meta, &e); err != nil {
			log.Warningf("skipping entry with bad metadata: %v", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}

	sortEntries(entries)
	return entries, nil
}

// Purge deletes every entry and returns how many were removed.
func (c *Cache) Purge() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM programs")
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	return res.RowsAffected()
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(b.CompiledAt, a.CompiledAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
}
