// Package logging configures slog output for the daemon and CLI.
//
// It provides a console handler (timestamp level component: message k=v ...),
// a JSON handler for machine consumption, attribute helpers, standardized
// field names, and context-derived logger augmentation so task, unit, stage,
// and correlation identifiers appear on every record emitted inside a run.
package logging
