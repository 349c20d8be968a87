// Package api exposes task operations as a service facade shared by the
// IPC server and the CLI. It owns validation of incoming task submissions
// and the DTO shapes that cross the process boundary.
package api
