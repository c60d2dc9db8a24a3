package config

import (
	"flag"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// knownFlags are the flags parseFlags handles; everything else in args is
// left to the binary.
var knownFlags = []string{"-a", "-d", "-b", "-c", "-config"}

// filterArgs keeps the flags parseFlags understands together with their
// values.
func filterArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		name := strings.TrimPrefix(a, "-")
		if j := strings.IndexByte(name, '='); j >= 0 {
			name = name[:j]
		}
		name = "-" + strings.TrimPrefix(name, "-")
		for _, f := range knownFlags {
			if name != f {
				continue
			}
			out = append(out, a)
			if !strings.Contains(a, "=") && i+1 < len(args) {
				out = append(out, args[i+1])
				i++
			}
			break
		}
	}
	return out
}

// parseFlags overlays command-line flags onto cfg.
//
//	-a string   listen address (e.g. ":8080")
//	-d string   PostgreSQL DSN; empty uses the in-memory store
//	-b string   absolute base URL of the site
//	-c string   YAML config file (read by parseYAML)
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("csp", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ListenAddr, "a", cfg.ListenAddr, "address and port to run server")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.BaseURL, "b", cfg.BaseURL, "base URL of the site")
	var file string
	fs.StringVar(&file, "c", "", "config file")
	fs.StringVar(&file, "config", "", "config file")

	if err := fs.Parse(filterArgs(args)); err != nil {
		return errors.Wrap(err, "parsing flags")
	}
	return nil
}
