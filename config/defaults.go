// Package config embeds the built-in configuration defaults.
package config

import _ "embed"

// Default is the embedded conf.default.yaml.
//
//go:embed conf.default.yaml
var Default []byte
