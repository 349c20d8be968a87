// Package services holds cross-cutting support for pipeline components:
// sentinel error markers used to classify failures, helpers to wrap stage
// errors with consistent context, and context annotations (task, unit,
// stage, correlation id) consumed by structured logging.
package services
