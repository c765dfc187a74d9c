// Package config loads recode's settings.
//
// Settings come from three places, later ones overriding earlier ones:
//
//	┌─────────────────────────────┐
//	│  3. RECODE_* environment    │  ← Highest priority
//	├─────────────────────────────┤
//	│  2. Config file (TOML/YAML) │
//	├─────────────────────────────┤
//	│  1. Built-in defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// The file format is picked by extension (.toml, .yaml, .yml). A missing
// file is not an error; the defaults apply.
//
// # Sub-packages
//
//   - watcher: reloads the config file when it changes on disk
package config
