package sqliteutil

import (
	"database/sql"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// OpenDB opens the given DSN and ensures the schema exists. Remote
// libsql URLs get the libsql driver, everything else is treated as a
// local sqlite file path (":memory:" included).
func OpenDB(schema, dsn string) (*sql.DB, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "libsql://") ||
		strings.HasPrefix(dsn, "wss://") ||
		strings.HasPrefix(dsn, "https://") {
		driver = "libsql"
	}

	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	_, err = database.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		database.Close()
		return nil, err
	}
	return database, nil
}
