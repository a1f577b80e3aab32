// Package logging builds the shared slog logger and provides attribute
// helpers and standardized field names used across doppel components.
package logging
