package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// configFile returns the value of -c / -config in args, falling back to
// CSP_CONFIG.
func configFile(args []string) string {
	for i, a := range args {
		for _, name := range []string{"-c", "--c", "-config", "--config"} {
			if a == name && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(a, name+"=") {
				return strings.TrimPrefix(a, name+"=")
			}
		}
	}
	return os.Getenv("CSP_CONFIG")
}

// parseYAML overlays the config file onto cfg. Keys missing in the file
// keep their current value.
func parseYAML(cfg *Config, args []string) error {
	location := configFile(args)
	if location == "" {
		return nil
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return errors.Wrapf(err, "reading config file %s", location)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parsing config file %s", location)
	}
	return nil
}
