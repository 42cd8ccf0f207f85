//go:build cgo
// +build cgo

package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/mattn/go-sqlite3"
)

const (
	driverName = "sqlite3stampwatch"
)

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if _, err := conn.Exec("PRAGMA temp_store=MEMORY", nil); err != nil {
				return fmt.Errorf("set temp_store: %w", err)
			}
			return nil
		},
	})
}

// getDSN returns a mattn/go-sqlite3 DSN, which takes pragmas as
// underscore-prefixed query parameters.
func getDSN(dbPath string, writable bool) string {
	params := url.Values{}
	params.Set("cache", "private")
	params.Set("mode", mode(writable))

	for _, p := range pragmas(writable) {
		params.Set("_"+p.name, p.value)
	}

	if writable {
		// https://sqlite.org/lang_transaction.html
		params.Set("_txlock", "immediate")
	}

	return "file:" + dbPath + "?" + params.Encode()
}

// OpenDB opens a handle on dbPath; it does not connect until first use.
func OpenDB(dbPath string, writable bool) (*sql.DB, error) {
	db, err := sql.Open(driverName, getDSN(dbPath, writable))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	return db, nil
}
