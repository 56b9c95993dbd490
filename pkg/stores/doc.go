// Package stores persists installer run history in SQLite: one row per
// install, update or uninstall run, the outcome of every unit in it, and
// the path validation decisions made while it ran.
//
// The schema is managed with golang-migrate from migrations embedded in
// the binary, so a history database created by an older release is
// upgraded in place on first use.
package stores
