// Package database manages the PostgreSQL connection pool, schema
// migrations, and storage error classification.
package database
