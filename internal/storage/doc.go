// Package storage keeps an optional, diagnostic-only history of unit
// transitions. Nothing in it is read back to restore runtime state.
package storage
