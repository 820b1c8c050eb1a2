// Package stores provides the persistence layer for OpenBex. It includes
// SQLite-based storage with WAL mode, connection pooling, and CRUD
// operations for reconciliation records, runs, and the append-only
// run event log.
package stores
