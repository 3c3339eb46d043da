/*
Package worker implements the worker-side connection manager: it opens
the channel to the controller, announces a fresh identifier, dispatches
request frames to the embedded Handler, and reconnects on loss.

A reconnect announces a new identifier, so the controller treats it as a
brand-new worker and bindings held by the previous identity are
discarded. Handler errors and panics become 500 response frames; the
channel stays open.
*/
package worker
