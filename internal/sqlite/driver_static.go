//go:build !cgo
// +build !cgo

package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverName = "sqlite3"
)

// getDSN returns a ncruces/go-sqlite3 DSN, which takes pragmas as repeated
// _pragma=name(value) query parameters.
func getDSN(dbPath string, writable bool) string {
	params := url.Values{}
	params.Set("cache", "private")
	params.Set("mode", mode(writable))

	for _, p := range pragmas(writable) {
		params.Add("_pragma", fmt.Sprintf("%s(%s)", p.name, p.value))
	}
	params.Add("_pragma", "temp_store(MEMORY)")

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
