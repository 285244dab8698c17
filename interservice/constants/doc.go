// Package constant centralizes wire-level constants shared across the
// library: HTTP header names, directory health vocabulary, and default
// configuration values.
package constant
