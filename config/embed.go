// Package config provides the embedded default configuration for chatline.
package config

import _ "embed"

// DefaultConfigYAML is written by "chatline config create".
//
//go:embed config.default.yaml
var DefaultConfigYAML []byte
