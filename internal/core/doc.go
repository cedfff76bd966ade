// Package core ingests roster CSV files into the account store.
//
// It holds the domain logic independent of any transport. The HTTP server,
// the rosterctl CLI and the watch-folder scheduler all drive the same types.
//
// # Pipeline
//
// An ingest runs four stages against one target term:
//
//  1. [Validator] reads the whole file without writing. It checks the
//     extension, size, encoding, headers and every cell, and reports which
//     school ids already exist. Any error aborts the run.
//  2. [Transformer] turns rows into typed account drafts in parallel
//     batches, resolving the term column through a per-run cache.
//  3. The [Ingester] deactivates accounts absent from the file, then hands
//     fixed-size chunks to a worker pool. Each chunk is one writer scope;
//     each row runs in a savepoint so a failed row leaves its neighbours
//     intact. Busy and Locked store errors are retried per [RetryPolicy].
//  4. Accounts present in the file are reactivated and the final
//     activation counts are attached to the [IngestReport].
//
// Progress is reported as a fraction that never decreases and reaches 1.0
// only after the report is complete.
//
// # Persistence
//
// The engine talks to storage through [Backend]. [NewStoreBackend] adapts
// the PostgreSQL store; tests use an in-memory implementation.
//
// # Background Runs
//
// [Service] runs ingests asynchronously under an [IngestLimiter] slot and
// fans progress out to subscribers. [Watcher] feeds it files from a watch
// directory on a cron schedule. [Exporter] writes the stored accounts back
// out in the roster layout.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a code for support reference:
//
//   - DB001-DB007: Store errors (duplicates, constraints, locks, commit)
//   - VAL001-VAL003: Validation errors
//   - FILE001-FILE004: File errors (size, type, encoding)
//   - ING001-ING005: Ingest errors (cancelled, busy, not found, timeout)
//   - TERM001-TERM002: Term errors
//   - AUTH001: Authentication
package core
