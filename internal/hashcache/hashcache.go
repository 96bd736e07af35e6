// Package hashcache remembers the SHA-1 of local files between runs so the
// change detector only rehashes files whose size or mtime moved.
package hashcache

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/figaro/internal/db"
	"github.com/openmined/figaro/internal/utils"
)

const defaultLRUSize = 4096

const schema = `
CREATE TABLE IF NOT EXISTS file_hashes (
	path       TEXT PRIMARY KEY,
	size       INTEGER NOT NULL,
	mtime_ns   INTEGER NOT NULL,
	sha1       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

type entry struct {
	Path      string `db:"path"`
	Size      int64  `db:"size"`
	MtimeNs   int64  `db:"mtime_ns"`
	SHA1      string `db:"sha1"`
	UpdatedAt int64  `db:"updated_at"`
}

func (e *entry) matches(info os.FileInfo) bool {
	return e.Size == info.Size() && e.MtimeNs == info.ModTime().UnixNano()
}

// Cache satisfies change.Hasher.
type Cache struct {
	db     *sqlx.DB
	recent *lru.Cache[string, entry]
	hash   func(string) (string, error)
}

// Open creates or opens the cache database at path.
func Open(path string) (*Cache, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path))
	if err != nil {
		return nil, fmt.Errorf("hashcache: %w", err)
	}
	c, err := New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an already open connection.
func New(conn *sqlx.DB) (*Cache, error) {
	if err := db.Migrate(conn, schema); err != nil {
		return nil, fmt.Errorf("hashcache: %w", err)
	}
	recent, err := lru.New[string, entry](defaultLRUSize)
	if err != nil {
		return nil, fmt.Errorf("hashcache: %w", err)
	}
	return &Cache{db: conn, recent: recent, hash: utils.FileSHA1}, nil
}

// Hash returns the SHA-1 of the file, reusing a stored digest when size and
// mtime are unchanged.
func (c *Cache) Hash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if e, ok := c.recent.Get(path); ok && e.matches(info) {
		return e.SHA1, nil
	}

	var stored entry
	err = c.db.Get(&stored, "SELECT path, size, mtime_ns, sha1, updated_at FROM file_hashes WHERE path = ?", path)
	switch {
	case err == nil && stored.matches(info):
		c.recent.Add(path, stored)
		return stored.SHA1, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		slog.Warn("hashcache lookup", "path", path, "error", err)
	}

	sum, err := c.hash(path)
	if err != nil {
		return "", err
	}

	fresh := entry{
		Path:      path,
		Size:      info.Size(),
		MtimeNs:   info.ModTime().UnixNano(),
		SHA1:      sum,
		UpdatedAt: time.Now().Unix(),
	}
	if _, err := c.db.NamedExec(`
		INSERT INTO file_hashes (path, size, mtime_ns, sha1, updated_at)
		VALUES (:path, :size, :mtime_ns, :sha1, :updated_at)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mtime_ns = excluded.mtime_ns,
			sha1 = excluded.sha1,
			updated_at = excluded.updated_at`, fresh); err != nil {
		// the digest is still correct, only the next run pays for it again
		slog.Warn("hashcache store", "path", path, "error", err)
	}
	c.recent.Add(path, fresh)
	return sum, nil
}

// Forget drops the stored digest for path.
func (c *Cache) Forget(path string) error {
	c.recent.Remove(path)
	_, err := c.db.Exec("DELETE FROM file_hashes WHERE path = ?", path)
	return err
}

func (c *Cache) Len() (int, error) {
	var n int
	err := c.db.Get(&n, "SELECT count(*) FROM file_hashes")
	return n, err
}

func (c *Cache) Close() error {
	c.recent.Purge()
	return c.db.Close()
}
