// Package schemas provides embedded JSON Schema documents for slipway
// configuration files.
package schemas

import _ "embed"

// ManifestV1Schema is the JSON Schema for slipway.yaml.
//
//go:embed slipway.schema.json
var ManifestV1Schema []byte
