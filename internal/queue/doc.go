// Package queue persists upload records in SQLite so captured artifacts
// survive process and device restarts until they reach the ledger.
//
// The Store manages database connections, schema initialization, stats
// queries, stuck-record recovery, and the enqueue/dequeue lifecycle the
// delivery worker drives. Enqueue spools the artifact payload to a file
// under the spool directory and persists everything else as a record keyed
// by the client artifact ID, which makes the operation idempotent: the same
// artifact enqueued twice is one record.
//
// A record leaves the database only through MarkDelivered or an explicit
// removal. Process death mid-upload leaves the record behind; the daemon
// resets in-flight records back to queued on startup.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new record fields, update schema.sql and bump schemaVersion.
package queue
