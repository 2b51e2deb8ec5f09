// Package config provides configuration loading and validation for the voice relay service.
// It layers a YAML file over built-in defaults and takes provider API keys from the environment.
package config
