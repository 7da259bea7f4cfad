// Package config loads the havoc configuration file and fault definition
// documents. Both are YAML; every configuration field has a default.
package config
