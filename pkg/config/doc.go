// Package config loads service configuration from defaults, an optional YAML
// file (PERMSYNC_CONFIG_FILE), and PERMSYNC_* environment overrides, and
// provides the rotating webhook-secret source.
package config
