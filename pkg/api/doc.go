/*
Package api is the public HTTP surface of the controller.

GET and HEAD on / and /favicon.ico are reserved and answered locally.
Admin endpoints (/workers, /maps, /health, /metrics) require the
configured API key header: a wrong key yields 401, while an absent key
makes the request indistinguishable from a proxy request. Every other
request is forwarded to the worker owning its path, with x-request and
x-worker stamped onto the response.
*/
package api
