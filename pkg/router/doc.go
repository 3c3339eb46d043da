// Package router resolves resource keys to owning workers, pinning each
// newly seen key to the next healthy worker in round-robin order.
package router
