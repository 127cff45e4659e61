// Package engine implements the chatsync local-first sync engine.
//
// The engine is the single authority reconciling optimistic local state with
// the remote store for one entity family (chat messages).
//
// ARCHITECTURE:
//
// Local-First Writes:
// AddLocalPending writes the record to the durable store before anything
// touches the network, then queues it in the outbox. The next List call
// sees it immediately with Pending=true.
//
// Outbound Delivery:
// Flush drains the outbox through a caller-supplied SendFn, one record at a
// time. Confirmed records are settled (and re-keyed when the server issues
// its own id); failed records keep Pending=true with Error set and stay
// queued for the next Flush. Retry timing belongs to the caller.
//
// Inbound Reconciliation:
// SyncFromServer fetches a conversation through a caller-supplied ListFn
// and upserts every returned record as settled. Local-only pending records
// are never deleted. Same-id conflicts follow the ConflictPolicy.
//
// Restart:
// The outbox lives in memory. Restore rebuilds it from the store's pending
// index, so a crash between write and delivery loses nothing.
//
// INVARIANTS:
//   - One record per id (store upsert)
//   - Pending=false implies Error=nil
//   - List orders by CreatedAt ascending, then id
//   - The outbox holds payload copies only; the store is the source of truth
package engine
