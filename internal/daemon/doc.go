// Package daemon coordinates the background pipeline, enforces
// single-instance execution with a lock file, and surfaces the task
// service to IPC clients.
package daemon
