// Package ledger records subscription billing attempts and plan changes.
//
// # Pending Orders
//
// The pending-order ledger holds one record per (subscription, due date).
// A record moves from pending to generated or failed. A failed record may be
// replaced by a later attempt; a generated record is final and Save returns
// ErrAlreadyGenerated for it. This is the idempotency guard for monthly
// order generation.
//
// # Plan History
//
// The plan-change history is append-only. Records are never updated or
// removed.
//
// # Backends
//
//   - MemoryLedger: process-local maps, used in tests and single-node setups
//   - FileLog: append-only JSON Lines files with an in-memory index
//   - sqlstore.Ledger (pkg/storage/sqlstore): SQL tables keyed by
//     (subscription_id, due_date) and id
package ledger
