//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// The sqlite_vec build links the mattn CGO driver with the sqlite-vec
// extension registered, so vec0 virtual tables are available for ANN
// queries instead of the brute-force cosine scan.
const (
	driverName   = "sqlite3"
	vecExtension = true
)

func init() {
	vec.Auto()
}

func dsn(path string) string {
	const params = "_busy_timeout=5000" +
		"&_journal_mode=WAL" +
		"&_synchronous=NORMAL" +
		"&_foreign_keys=on"
	if path == ":memory:" {
		return "file::memory:?mode=memory&cache=shared&" + params
	}
	return path + "?" + params
}
