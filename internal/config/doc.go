// Package config loads, normalizes, and validates doppel configuration.
//
// Configuration lives in a TOML file (default ~/.config/doppel/config.toml).
// Secrets (provider credentials, bot token, API token) can be supplied via
// environment variables, optionally sourced from a .env file next to the
// config, so they never have to be written into the TOML file itself.
package config
