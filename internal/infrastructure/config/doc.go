// Package config loads the access service configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// GRAYLOGIC_* environment variables. LoadEnvFiles can seed the
// environment from .env files first. Secrets such as the JWT key, broker
// password and default PIN are expected from the environment.
//
// Validate reports problems by their YAML path, for example
// "door.default_pin must be exactly 4 digits".
package config
