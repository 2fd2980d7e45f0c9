// Package stores persists editing sessions in SQLite. It records the
// journal of editor actions (options.Journal) and the telemetry events a
// session produced, using WAL mode and embedded migrations.
package stores
