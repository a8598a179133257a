// Package store persists the gateway's audit records in SQLite.
//
// # Records
//
//   - DeliveryFailure: an outbound message dropped after egress exhausted
//     its retries.
//   - SessionEviction: a conversation session removed for inactivity,
//     with the state it was in.
//
// Nothing on the request path reads these tables; they exist so operators
// can answer "why did chat X not get a reply" after the fact.
//
// # Implementations
//
// SQLiteStore uses sqlx over modernc.org/sqlite with WAL enabled and a single
// open connection. The schema lives in embedded migrations applied with
// golang-migrate on open. MockStore is an in-memory Store for tests of
// packages that record audit rows.
package store
