// Package api defines the payload types shared by the daemon HTTP surface
// and the operator CLI, plus a small client for talking to a running daemon.
package api
