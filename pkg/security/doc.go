/*
Package security implements the Key store: issuance, revocation, and
validation of tenant API keys.

A key is a random 32-byte token, base64-encoded, returned to the caller
exactly once at creation time. Only its SHA-256 hash is persisted, in the
same BoltDB file the Job Store uses, under its own bucket. The HTTP
adapter's auth middleware calls Validate on every request's X-API-Key
header to resolve the calling owner before the request reaches the engine.
*/
package security
