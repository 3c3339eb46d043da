/*
Package correlator suspends HTTP handlers until the response frame that
matches their request arrives on the socket, or a deadline fires.

Matching is by correlation id only, so responses may arrive in any order
across workers and within a single worker. Responses that show up after
their waiter gave up are retained until their expiration and then swept,
so late arrivals neither error nor accumulate.
*/
package correlator
