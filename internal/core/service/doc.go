// Package service provides the session services used by the ingest
// handlers.
//
// SessionStore is the only shared mutable resource across sessions: it
// keeps each session's master secret and metadata under namespaced keys in
// a storage.KV. Get-or-create of the secret is serialized per session key,
// so concurrent context connections for one session always agree on the
// secret.
package service
