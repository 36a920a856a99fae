// Package config loads the recorder's YAML configuration, fills gaps with
// defaults, validates every section and converts it into recorder settings.
package config
