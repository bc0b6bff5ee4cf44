//go:build !sqlite_vec

package store

import _ "modernc.org/sqlite"

// The default build uses the CGO-free modernc driver. FTS5 and VACUUM INTO
// ship with it; vector search runs as an in-process cosine scan.
const (
	driverName   = "sqlite"
	vecExtension = false
)

func dsn(path string) string {
	const pragmas = "_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)"
	if path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	return path + "?" + pragmas
}
