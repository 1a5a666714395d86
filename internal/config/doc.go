// Package config provides configuration loading and validation for the UDP audio relay
// and its worker. It handles YAML-based configuration layered over built-in defaults,
// so both binaries run without a config file.
package config
