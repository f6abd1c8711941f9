// Package postgres provides the PostgreSQL backend for the task store:
// connection setup over the pgx stdlib driver, the SQL dialect and the
// mapping of PostgreSQL error codes to store errors.
package postgres
