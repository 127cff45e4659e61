// Package broadcast clears tier-derived caches and tells every other client
// instance that a user's tier changed.
//
// Invalidation covers three targets for one user: in-memory caches, the
// key/value entries named by the configured key patterns, and the user's
// subscriptions row. Targets are cleared concurrently and independently; a
// failing target is logged and reported, never returned, so one bad cache
// cannot block the others.
//
// Peers learn of changes through a bus message. A peer drops its own
// in-memory entries for the user and re-raises the local notification, so
// listeners that refetch see the new tier. Shared storage is not cleared
// again. The publishing instance ignores its own messages.
package broadcast
