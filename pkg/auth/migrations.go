package auth

import (
	"embed"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/db"
)

//go:embed migrations/*.sql
var sessionMigrations embed.FS

// OpenCookieStore opens (and migrates) the sessions database at dbFile
// and returns a ready-to-use CookieStore.
func OpenCookieStore(dbFile string) (*CookieStore, error) {
	conn, err := db.Open(dbFile, sessionMigrations, "migrations")
	if err != nil {
		return nil, err
	}
	return NewCookieStore(conn), nil
}
