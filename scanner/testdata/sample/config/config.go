package config

// Settings of the sample.
// @config
type Settings struct {
	Name string
}
