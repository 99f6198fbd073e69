package config

import (
	"io"

	"gopkg.in/yaml.v3"
)

// Dump writes cfg as YAML in the same layout Load reads.
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
