// Package daemon wires the workflow components into a long-running service:
// single-instance locking, the HTTP surface for webhooks and the operator
// API, and the scheduled maintenance sweeps.
package daemon
