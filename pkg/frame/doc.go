/*
Package frame defines the message envelope exchanged between controller
and workers and its JSON wire codec.

A frame is one of four kinds: Heartbeat, Request, Response, or Unknown.
Requests carry method, absolute URL, headers and payload; responses carry
a status code in [100, 599], content type, headers and payload; heartbeats
carry the id of the worker on the channel. Header lookups are case-insensitive;
unknown JSON fields are ignored on decode.
*/
package frame
