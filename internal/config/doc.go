// Package config defines and loads the pulse runtime configuration.
//
// Sources are applied in increasing precedence:
//
//	┌─────────────────────────────┐
//	│  4. PULSE_* environment     │  ← Highest priority
//	├─────────────────────────────┤
//	│  3. .env files              │
//	├─────────────────────────────┤
//	│  2. Config file             │  ← pulse.toml or pulse.yaml
//	├─────────────────────────────┤
//	│  1. Built-in defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Environment names are the section and key upper-cased under the PULSE_
// prefix, for example PULSE_SCHEDULER_SHARDS or PULSE_LOG_LEVEL.
//
// # Sub-packages
//
//   - loader: file decoding (TOML, YAML), .env parsing and the env overlay
//   - watcher: change detection on the config file
//   - notify: delivery of per-setting changes to observers
//
// # Live reload
//
// Diff compares two loaded configurations and yields notify.Change records.
// Only some settings take effect without a restart; the runtime decides
// which.
package config
