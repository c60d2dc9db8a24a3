package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// EnvFile is read when present; real environment variables win over it.
var EnvFile = ".env"

func lookupEnv(dotenv map[string]string, key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	v, ok := dotenv[key]
	return v, ok
}

// parseEnv applies CSP_* variables from the environment and the .env file.
func parseEnv(cfg *Config) error {
	dotenv := map[string]string{}
	if _, err := os.Stat(EnvFile); err == nil {
		m, err := godotenv.Read(EnvFile)
		if err != nil {
			return errors.Wrapf(err, "reading %s", EnvFile)
		}
		dotenv = m
	}

	strs := map[string]*string{
		"CSP_LISTEN_ADDR":            &cfg.ListenAddr,
		"CSP_DATABASE_DSN":           &cfg.DatabaseDSN,
		"CSP_BASE_URL":               &cfg.BaseURL,
		"CSP_REPORT_PATH":            &cfg.ReportPath,
		"CSP_NONCE_INJECTION_METHOD": &cfg.NonceInjectionMethod,
		"CSP_LOG_FORMAT":             &cfg.LogFormat,
		"CSP_LOG_LEVEL":              &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookupEnv(dotenv, key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"CSP_ACCEPT_REPORTS":     &cfg.AcceptReports,
		"CSP_RUN_IN_ADMIN":       &cfg.RunInAdmin,
		"CSP_INCLUDE_SUBDOMAINS": &cfg.IncludeSubdomains,
		"CSP_OVERRIDE_APPLY":     &cfg.OverrideApply,
		"CSP_DISABLED":           &cfg.Disabled,
	}
	for key, dst := range bools {
		if v, ok := lookupEnv(dotenv, key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(err, "parsing %s", key)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"CSP_NONCE_LENGTH":      &cfg.NonceLength,
		"CSP_MINIMUM_CSP_LEVEL": &cfg.MinimumCSPLevel,
		"CSP_MAX_AGE":           &cfg.MaxAge,
	}
	for key, dst := range ints {
		if v, ok := lookupEnv(dotenv, key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(err, "parsing %s", key)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"CSP_PRUNE_OLDER_THAN": &cfg.PruneOlderThan,
		"CSP_PRUNE_INTERVAL":   &cfg.PruneInterval,
	}
	for key, dst := range durations {
		if v, ok := lookupEnv(dotenv, key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(err, "parsing %s", key)
			}
			*dst = d
		}
	}

	lists := map[string]*[]string{
		"CSP_ADMIN_PATHS":    &cfg.AdminPaths,
		"CSP_EXCLUDED_PATHS": &cfg.ExcludedPaths,
		"CSP_INCLUDED_PATHS": &cfg.IncludedPaths,
	}
	for key, dst := range lists {
		if v, ok := lookupEnv(dotenv, key); ok {
			*dst = splitList(v)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
