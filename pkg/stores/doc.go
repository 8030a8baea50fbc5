// Package stores keeps the convergence run history in SQLite: one row per
// run, one row per resource result and the append-only event timeline.
// The schema is embedded and applied with golang-migrate.
package stores
