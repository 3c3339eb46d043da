/*
Package registry holds the connected-worker set and the resource binding
table, the two shared structures at the heart of the controller.

# Invariants

The registry and bindings jointly maintain:

  - Every binding's value refers to a worker currently in the registry.
    Remove evicts a worker's bindings before releasing the registry lock,
    so no caller observes a worker gone while its bindings remain.
  - A resource key maps to at most one worker.
  - Only healthy workers are handed out by SelectRoundRobin.
  - A bound key stays with its owner while the owner is healthy; bindings
    are never reshuffled for load.

# Locking

Two mutexes: the registry's and the bindings'. When both are needed the
registry mutex is acquired first. Snapshots copy data so callers iterate
without holding either lock.

# Round-robin cursor

The cursor indexes the worker list and is only touched under the registry
mutex. Additions append and cannot invalidate it; removals compact the
list and clamp the cursor back into range, so a selection after a removal
may skip a worker for one round but never indexes out of bounds.
*/
package registry
