// Package sqlstore implements store.TaskStore on database/sql.
//
// The same statements serve PostgreSQL and SQLite; a Dialect supplies the
// placeholder style, row locking and error mapping for each backend.
package sqlstore
