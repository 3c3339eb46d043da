/*
Package transport carries frames between controller and workers over
persistent TCP connections.

Each message is an 8-byte header (magic, version, payload length)
followed by the frame's JSON encoding. A connection opens with a
heartbeat frame announcing the worker's identifier; the server rejects
anything else. Outbound frames go through a per-connection single-writer
queue, so callbacks and dispatch calls enqueue without blocking; a full
queue surfaces as a send failure rather than back-pressure on the caller.
*/
package transport
