/*
Package types defines the shared domain vocabulary: the error kinds
surfaced to clients, the sentinel errors of the routing core, the proxy
header names, the tunable minima and defaults, and the admin-facing
worker view.

# Error taxonomy

Routing and correlation failures map onto a small, client-visible set:

	NoWorkers    502  registry empty or no healthy candidate
	ProxyFailed  502  transport refused to forward the frame
	Timeout      408  no response within the dispatch timeout
	Unauthorized 401  admin path with a wrong key
	InternalError 500 unhandled controller-side failure

Handlers compare against the sentinel errors with errors.Is; the HTTP
surface owns the mapping to status codes and JSON bodies.
*/
package types
