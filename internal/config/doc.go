// Package config loads the service settings with viper: built-in defaults,
// then an optional config.yaml, then QUESTGEN_ environment variables. The
// result is validated with struct tags before anything is wired.
package config
