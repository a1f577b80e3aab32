// Package process defines the durable workflow state for digital twin
// creation: the process record and its status machine, the webhook event
// journal, and the SQLite store both are persisted in.
package process
