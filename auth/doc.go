// Package auth holds the authenticated principal and the request-scoped
// security context that carries it.
//
// A principal is published into a request's context.Context by the
// authentication gate in package middleware and read back by handlers and
// authorization checks. Nothing here is stored outside the context, so a
// principal never outlives the request that produced it.
package auth
