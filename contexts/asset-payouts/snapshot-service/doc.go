// Package snapshotservice records token holder balances at a block height,
// builds and persists a Merkle tree over them, and answers investor claim
// queries with inclusion proofs against payouts that reference the tree root.
//
// Snapshot requests are processed asynchronously by a worker that claims one
// pending snapshot per tick; see application/workers.
package snapshotservice
