// Package storage persists queue range metadata and the item journal.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite file database (default)
//   - "mysql": MySQL/MariaDB via go-sql-driver/mysql
//   - "bolt": single-file bbolt database
//
// Queue rows never carry item content; the journal holds the raw posts the
// origin reads back at drain time.
package storage
