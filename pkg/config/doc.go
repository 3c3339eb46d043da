// Package config loads and validates settings from constellation.json
// (or a YAML variant), layering CONSTELLATION_* environment overrides on
// top. Minima are enforced at construction and never clamped silently.
package config
