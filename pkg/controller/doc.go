/*
Package controller composes the routing core: it admits workers from the
socket channel, runs one heartbeat loop per worker, and drives request
frames through the router and correlator.

Control flow for one proxied request:

	HTTP request → router (registry + bindings) → correlator →
	socket send → worker → response frame → correlator → HTTP response

Orthogonally, per-worker heartbeat loops probe each channel; transport
disconnects and exhausted heartbeat budgets both evict the worker, which
cascades into the binding table. Everything hangs off a Controller value,
so tests run several controllers side by side.
*/
package controller
