// Package harness runs scripted JsonSync scenarios.
//
// A scenario starts a handful of replicas on a manual memnet hub, so
// nothing is delivered until a step asks for it. Steps make edits and
// shape delivery, and assertions check every replica's final content.
//
// # Scenario Format
//
//	name: chain_invalidated
//	description: "What this scenario validates"
//	replicas: 2
//	initial: {}
//	steps:
//	  - op: add
//	    replica: r0
//	    path: /hello
//	    value: world
//	    label: op1
//	  - op: flush
//	    link: [r0, r1]
//	  - op: replace
//	    replica: r0
//	    path: /hello
//	    value: after
//	    after: op1
//	    expect: applied
//	assertions:
//	  - type: content
//	    path: /hello
//	    expect: there
//	  - type: converged
//
// Files are checked against an embedded CUE schema and decoded with
// unknown fields rejected.
//
// # Step Kinds
//
//   - add, replace, remove, move: edit through one replica; label names
//     the result, after chains onto a labeled operation
//   - flush: deliver everything queued on one link
//   - sync: deliver until the network is quiet
//   - drop, duplicate: lose or repeat the index-th queued message
//   - reverse: flip the queue of one link
//   - partition, heal: stop or resume delivery by sync
//   - resend: hand a replica's authored operations straight to another
//   - snapshot: record one replica's content in the trace
//   - join: add a replica; existing replicas send it their operations
//
// # Deterministic Traces
//
// Replica i is named r<i> and has machine id [i], so marks, winners and
// message counts repeat exactly from run to run. Snapshot renders the
// trace as canonical JSON lines for golden file comparison.
package harness
