// Package httpmw holds the HTTP middleware shared by the public and admin
// listeners: request ids, client IP resolution, request-scoped logging,
// CORS, panic recovery, and body size limits.
//
// Middleware here is plain func(http.Handler) http.Handler so it composes
// with chi and with Chain regardless of router.
package httpmw
