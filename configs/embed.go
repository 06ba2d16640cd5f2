// Package configs provides the embedded configuration template for
// ThreatVault. Embedding at build time keeps the template available in
// every distribution, whether installed from source or a binary release.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration.
// Created by: `threatvault config init` at ~/.threatvault/config.yaml.
// Values mirror the hardcoded defaults in internal/config.
//
//go:embed config.example.yaml
var ConfigTemplate string
