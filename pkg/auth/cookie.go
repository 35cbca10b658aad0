package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrSessionExpired is returned by CookieStore.Lookup for a cookie that
// is known but past its expiry (spec.md §4.2 credential mode 2).
var ErrSessionExpired = errors.New("session expired")

// ErrSessionNotFound is returned for a cookie value with no matching
// session row.
var ErrSessionNotFound = errors.New("session not found")

// CookieSession is one row of the gateway's own session store, backing
// the opaque session-cookie credential mode used by the human web UI.
type CookieSession struct {
	Cookie    string    `db:"cookie"`
	Username  string    `db:"username"`
	Groups    string    `db:"groups"` // space-separated, matches JWT "groups" shape
	ExpiresAt time.Time `db:"expires_at"`
}

// CookieStore persists opaque session cookies in a SQLite database
// opened via pkg/db, keyed by a random cookie value minted at web-UI
// login time.
type CookieStore struct {
	db *sqlx.DB
}

// NewCookieStore wraps an already-open *sqlx.DB. The caller (pkg/db) is
// responsible for running the sessions table migration.
func NewCookieStore(db *sqlx.DB) *CookieStore {
	return &CookieStore{db: db}
}

// Put inserts or replaces a session row.
func (c *CookieStore) Put(ctx context.Context, s CookieSession) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sessions (cookie, username, groups, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cookie) DO UPDATE SET username=excluded.username, groups=excluded.groups, expires_at=excluded.expires_at
	`, s.Cookie, s.Username, s.Groups, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Lookup resolves cookie to its session row.
func (c *CookieStore) Lookup(ctx context.Context, cookie string) (CookieSession, error) {
	var s CookieSession
	err := c.db.GetContext(ctx, &s, `SELECT cookie, username, groups, expires_at FROM sessions WHERE cookie = ?`, cookie)
	if errors.Is(err, sql.ErrNoRows) {
		return CookieSession{}, ErrSessionNotFound
	}
	if err != nil {
		return CookieSession{}, fmt.Errorf("looking up session: %w", err)
	}
	if time.Now().After(s.ExpiresAt) {
		return CookieSession{}, ErrSessionExpired
	}
	return s, nil
}

// Delete removes a session row (logout).
func (c *CookieStore) Delete(ctx context.Context, cookie string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE cookie = ?`, cookie)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
