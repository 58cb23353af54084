// Package session owns the client's authenticated session.
//
// A Manager holds the identity and credential pair, persists them through a
// credstore.Store, renews the access credential every RenewalInterval and
// ends the session after IdleInterval without a renewal. Every termination
// path (explicit logout, a 401 from the API, a failed or impossible renewal,
// idle expiry) runs the same cleanup routine.
//
// Asynchronous completions (login and refresh responses, timer callbacks)
// carry the epoch they were started under and are dropped when the session
// has moved on.
package session
