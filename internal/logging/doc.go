// Package logging constructs the process-wide slog logger and provides
// attribute helpers shared by every worker stage.
//
// Two output formats are supported: a console format for interactive use
// and a JSON format for log aggregation. Field keys that operators grep
// for (job id, stage, event type) are exported constants so call sites
// stay consistent.
package logging
