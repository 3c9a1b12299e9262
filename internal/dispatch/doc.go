// Package dispatch maps command names delivered by the voice host to the
// handlers that execute them.
//
// The registry is built once from a static table and never mutated, so it is
// safe for concurrent lookups from every session without locking.
//
// Resolution rules:
//   - Exact, case-sensitive match on the command name
//   - Any name not in the table resolves to the fallback handler
//   - An empty table resolves everything to the fallback
//
// The default fallback answers with a generic "let me open the app" message
// and launch argument "". Unknown names are never surfaced to the user as
// errors; the session logs them at warn level.
package dispatch
