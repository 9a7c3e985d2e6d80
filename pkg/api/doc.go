/*
Package api implements Crucible's HTTP adapter: submit, get, list, and
health routes, routed with gorilla/mux.

Every /api/* route runs behind authMiddleware, which resolves the
X-API-Key header to an owner identity via the Key store (pkg/security)
before the request reaches the Job Store or the engine. Submission hands
the new job straight to an Executor (the Execution Supervisor) in its own
goroutine and returns immediately with status not_started; the client
polls GET /api/job/{id} for the result.
*/
package api
