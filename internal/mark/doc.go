// Package mark implements causal-order tokens and the Lamport clock that
// mints them.
//
// A Mark is [counter, replicaId..., sequence]. The counter is the minting
// replica's clock when the root operation of a transaction was created,
// the replica id identifies the author, and the sequence numbers the
// operations chained into one atomic transaction starting at 0.
//
// Marks compare lexicographically, with a strict prefix ranking first, which
// gives every replica the same total order over all operations.
package mark
