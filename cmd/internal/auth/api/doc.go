// Package authapi is the client for the InfraMon auth endpoints:
// POST /auth/login, POST /auth/refresh, POST /auth/logout and GET /auth/me.
//
// The client carries credentials only when the caller passes them in; it
// holds no session state of its own.
package authapi
