// Package config loads, normalizes, and validates worker configuration
// from a TOML file. All path fields in a loaded Config are absolute.
package config
