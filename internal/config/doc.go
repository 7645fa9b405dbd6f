// Package config loads the simulation daemon configuration from a YAML file
// and overlays environment variables on top of it. Missing values are filled
// with the defaults returned by Default.
package config
