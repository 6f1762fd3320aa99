// Package unitcache stores compiled units in SQLite, keyed by a digest of
// everything that determines the compiler's output.
package unitcache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/fglock/perlcore/vm"
)

var log = commonlog.GetLogger("perlcore.unitcache")

// ErrMiss indicates no unit is stored under the key.
var ErrMiss = errors.New("unit not cached")

// Cache is a SQLite store of encoded units.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path. ":memory:" gives a
// private in-memory cache.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening unit cache: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS units (
		key TEXT PRIMARY KEY,
		file TEXT NOT NULL,
		version INTEGER NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Key digests a compilation: the unit format version, the file name, the
// starting package and pragmas, and the source text.
func Key(src, file, pkg string, p vm.Pragmas) string {
	features := append([]string(nil), p.Features...)
	sort.Strings(features)
	h := sha256.New()
	fmt.Fprintf(h, "v%d\x00%s\x00%s\x00strict=%t\x00warnings=%t\x00%s\x00",
		vm.FormatVersion, file, pkg, p.Strict, p.Warnings, strings.Join(features, ","))
	h.Write([]byte(src))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the unit stored under key, or ErrMiss. A stored unit that no
// longer decodes is dropped and reported as a miss.
func (c *Cache) Get(key string) (*vm.Unit, error) {
	var data []byte
	err := c.db.QueryRow("SELECT data FROM units WHERE key = ? AND version = ?", key, vm.FormatVersion).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying unit: %w", err)
	}
	u, err := vm.UnmarshalUnit(data)
	if err != nil {
		log.Warningf("dropping undecodable cache entry %s: %s", key, err.Error())
		if derr := c.Delete(key); derr != nil {
			return nil, derr
		}
		return nil, ErrMiss
	}
	return u, nil
}

// Put stores u under key, replacing any previous entry.
func (c *Cache) Put(key string, u *vm.Unit) error {
	data, err := vm.MarshalUnit(u)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec("INSERT OR REPLACE INTO units (key, file, version, data) VALUES (?, ?, ?, ?)",
		key, u.File(), vm.FormatVersion, data)
	if err != nil {
		return fmt.Errorf("saving unit: %w", err)
	}
	return nil
}

// Delete removes the entry for key.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec("DELETE FROM units WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}
	return nil
}

// Len returns the number of stored units.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM units").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting units: %w", err)
	}
	return n, nil
}

// Prune removes entries written by other unit format versions and returns
// how many were removed.
func (c *Cache) Prune() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec("DELETE FROM units WHERE version != ?", vm.FormatVersion)
	if err != nil {
		return 0, fmt.Errorf("pruning units: %w", err)
	}
	return res.RowsAffected()
}
