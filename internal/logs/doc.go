// Package logs provides file tailing and offset helpers for worker log
// inspection.
//
// It streams log files with bounded memory usage, supports negative offsets
// for "tail last N lines" operations, and powers follow-mode updates for
// `shelfscan logs --follow`. Filters understand the JSON records the worker
// writes, so output can be narrowed by level or pipeline component. Callers
// supply context deadlines so background polling shuts down cleanly when
// the CLI exits.
package logs
