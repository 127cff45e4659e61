// Package harness runs sync scenarios described in YAML against a real
// engine and store, and checks the outcome.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	conversation: c1          # default conversation for steps and assertions
//	policy: server_wins       # optional conflict policy
//	steps:
//	  - add: { id: m1, role: user, content: hello }
//	  - flush:
//	      outcomes:
//	        m1: { ok: true, server_id: srv-1 }
//	      default: { ok: false, error: NETWORK }
//	  - sync:
//	      records:
//	        - { id: s1, role: assistant, content: hi }
//	  - advance: 5s
//	  - restart: true
//	  - list: true
//	assertions:
//	  - type: record
//	    id: srv-1
//	    expect: { pending: false, error: null }
//	  - type: absent
//	    id: m1
//	  - type: count
//	    count: 2
//	  - type: order
//	    ids: [s1, srv-1]
//	  - type: outbox_size
//	    count: 0
//
// # Steps
//
//   - add: AddLocalPending; ids default to local-1, local-2, ...
//   - flush: Flush with a scripted sender. Ids without an outcome get the
//     default, which itself defaults to { ok: true }. An outcome with
//     raise set makes the sender return an error instead of a result.
//   - sync: SyncFromServer with a fixed server response, or a fetch error
//     when fail is set
//   - advance: move the clock forward
//   - restart: replace the engine over the same store and Restore it
//   - list: record the conversation in the trace
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite database, a manual clock starting
// at testutil.DefaultEpoch, and sequential ids, so traces are byte-identical
// across runs and can be compared with golden files.
package harness
