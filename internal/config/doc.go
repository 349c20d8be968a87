// Package config loads, normalizes, and validates montage configuration.
//
// Configuration comes from a TOML file (default ~/.config/montage/config.toml
// or ./montage.toml), decoded over repository defaults. Paths are expanded to
// absolute form during normalization and the result is validated before use.
package config
