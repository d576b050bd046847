// Package configs embeds the configuration template written by
// `fusesearch config init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Built-in defaults (config.NewConfig)
//  2. User config ($XDG_CONFIG_HOME/fusesearch/config.yaml)
//  3. Project config (.fusesearch.yaml)
//  4. Environment variables (FUSESEARCH_*)
package configs

import _ "embed"

// ProjectConfigTemplate is written to .fusesearch.yaml in the project root.
// Every key is commented out, so the file changes nothing until edited.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
