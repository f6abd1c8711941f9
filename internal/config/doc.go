// Package config handles configuration loading, parsing, and validation
// from defaults, an optional config file and KC_-prefixed environment
// variables. Both the job runner and the admin server read their settings
// through Load.
package config
