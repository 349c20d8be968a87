// Package ipc implements the JSON-RPC control channel between the montage
// CLI and the daemon, carried over a Unix domain socket.
package ipc
