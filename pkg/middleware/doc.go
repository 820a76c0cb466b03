// Package middleware provides the HTTP middleware chain: bearer token
// authentication, organization hint parsing, and per-request logging and
// metrics. Authorization itself lives in the rbac and scope packages; the
// middleware here only establishes request context.
package middleware
