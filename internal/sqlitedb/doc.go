// Package sqlitedb opens SQLite databases through modernc.org/sqlite with the
// pragmas every vidingest database uses (WAL, foreign keys, busy timeout),
// applies embedded migrations tracked in a schema_migrations table, and
// retries statements that hit SQLITE_BUSY.
package sqlitedb
