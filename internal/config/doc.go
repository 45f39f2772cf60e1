// Package config loads, validates, and normalizes slate's TOML
// configuration. Defaults live in defaults.go and the embedded sample file
// documents every section for operators.
package config
