package llm

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Cache stores language-model responses in SQLite so repeated pipeline runs
// over the same conversations do not re-pay for identical requests.
type Cache struct {
	db *sql.DB

	mu     sync.Mutex
	hits   int
	misses int
}

// OpenCache opens (or creates) the response cache in dataDir. Pass ":memory:"
// as dataDir for an in-memory cache (used by tests).
func OpenCache(dataDir string) (*Cache, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "llm_cache.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cache database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS responses (
		key        TEXT PRIMARY KEY,
		response   TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating responses table: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached response for key, or ok=false on a miss.
func (c *Cache) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}

	var response string
	err := c.db.QueryRow("SELECT response FROM responses WHERE key = ?", key).Scan(&response)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c.count(false)
		return "", false
	case err != nil:
		slog.Warn("cache lookup failed", "error", err)
		c.count(false)
		return "", false
	}

	c.count(true)
	return response, true
}

// Put stores a response under key, replacing any previous entry.
func (c *Cache) Put(key, response string) {
	if c == nil {
		return
	}
	if _, err := c.db.Exec(
		"INSERT OR REPLACE INTO responses (key, response) VALUES (?, ?)",
		key, response,
	); err != nil {
		slog.Warn("cache write failed", "error", err)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM responses").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// Stats returns the hit and miss counts accumulated since the cache was opened.
func (c *Cache) Stats() (hits, misses int) {
	if c == nil {
		return 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

// encodeVector serializes an embedding vector for cache storage.
func encodeVector(vec []float32) string {
	raw, _ := json.Marshal(vec)
	return string(raw)
}

// decodeVector deserializes a cached embedding vector.
func decodeVector(s string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil, fmt.Errorf("decoding cached vector: %w", err)
	}
	if len(vec) == 0 {
		return nil, errors.New("decoding cached vector: empty")
	}
	return vec, nil
}

// cacheKey builds a deterministic key from a request kind and its payload.
// The payload is serialized to JSON (map keys sorted by encoding/json) and
// hashed so keys stay short and stable across runs.
func cacheKey(kind string, payload any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Marshal of our own request structs cannot fail in practice.
		raw = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(raw)
	return kind + "_" + hex.EncodeToString(sum[:])
}
