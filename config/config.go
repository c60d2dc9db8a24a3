// Package config loads the runtime settings: defaults, then a YAML file,
// then .env and CSP_* environment variables, then command-line flags.
package config

import (
	"strings"
	"time"

	"github.com/secinto/go-csp-policy/policy"
)

// Config holds the settings of the CSP server and its middleware.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseDSN string `yaml:"database_dsn"`
	// BaseURL is the absolute site URL the built-in report endpoint hangs off.
	BaseURL       string `yaml:"base_url"`
	ReportPath    string `yaml:"report_path"`
	AcceptReports bool   `yaml:"accept_reports"`

	NonceLength          int    `yaml:"nonce_length"`
	NonceInjectionMethod string `yaml:"nonce_injection_method"`
	MinimumCSPLevel      int    `yaml:"minimum_csp_level"`

	RunInAdmin    bool     `yaml:"run_in_admin"`
	AdminPaths    []string `yaml:"admin_paths"`
	ExcludedPaths []string `yaml:"excluded_paths"`
	IncludedPaths []string `yaml:"included_paths"`

	IncludeSubdomains bool `yaml:"include_subdomains"`
	MaxAge            int  `yaml:"max_age"`

	// OverrideApply forces the policy onto every request; Disabled turns the
	// middleware off entirely and wins over OverrideApply.
	OverrideApply bool `yaml:"override_apply"`
	Disabled      bool `yaml:"disabled"`

	PruneOlderThan time.Duration `yaml:"prune_older_than"`
	PruneInterval  time.Duration `yaml:"prune_interval"`

	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`

	Policies []PolicySeed `yaml:"policies"`
}

// PolicySeed describes a policy created at startup.
type PolicySeed struct {
	Title                 string          `yaml:"title"`
	Enabled               bool            `yaml:"enabled"`
	IsBasePolicy          bool            `yaml:"is_base_policy"`
	IsLive                bool            `yaml:"is_live"`
	ReportOnly            bool            `yaml:"report_only"`
	DeliveryMethod        string          `yaml:"delivery_method"`
	MinimumCSPLevel       int             `yaml:"minimum_csp_level"`
	SendViolationReports  bool            `yaml:"send_violation_reports"`
	EnableNEL             bool            `yaml:"enable_nel"`
	AlternateReportURI    string          `yaml:"alternate_report_uri"`
	AlternateReportToURI  string          `yaml:"alternate_report_to_uri"`
	AlternateNELReportURI string          `yaml:"alternate_nel_report_uri"`
	Pages                 []string        `yaml:"pages"`
	Directives            []DirectiveSeed `yaml:"directives"`
}

// DirectiveSeed describes one directive of a seeded policy.
type DirectiveSeed struct {
	Key          string        `yaml:"key"`
	Rules        []policy.Rule `yaml:"rules"`
	Enabled      *bool         `yaml:"enabled"`
	IncludeSelf  bool          `yaml:"self"`
	UnsafeInline bool          `yaml:"unsafe_inline"`
	AllowDataURI bool          `yaml:"data"`
	ReportSample bool          `yaml:"report_sample"`
	HasNone      bool          `yaml:"none"`
	UseNonce     bool          `yaml:"nonce"`
}

// Policy converts the seed, using defaultLevel when the seed names none.
func (s PolicySeed) Policy(defaultLevel int) *policy.Policy {
	p := policy.New(s.Title)
	p.Enabled = s.Enabled
	p.IsBasePolicy = s.IsBasePolicy
	p.IsLive = s.IsLive
	p.ReportOnly = s.ReportOnly
	if s.DeliveryMethod != "" {
		p.DeliveryMethod = policy.DeliveryMethod(s.DeliveryMethod)
	}
	level := s.MinimumCSPLevel
	if level == 0 {
		level = defaultLevel
	}
	if level != 0 {
		p.MinimumCSPLevel = policy.CSPLevel(level)
	}
	p.SendViolationReports = s.SendViolationReports
	p.EnableNEL = s.EnableNEL
	p.AlternateReportURI = s.AlternateReportURI
	p.AlternateReportToURI = s.AlternateReportToURI
	p.AlternateNELReportURI = s.AlternateNELReportURI
	for _, d := range s.Directives {
		p.Directives = append(p.Directives, d.Directive())
	}
	return p
}

// Directive converts the seed. Directives are enabled unless stated otherwise.
func (s DirectiveSeed) Directive() *policy.Directive {
	d := &policy.Directive{
		Key:          s.Key,
		Rules:        append([]policy.Rule(nil), s.Rules...),
		Enabled:      s.Enabled == nil || *s.Enabled,
		IncludeSelf:  s.IncludeSelf,
		UnsafeInline: s.UnsafeInline,
		AllowDataURI: s.AllowDataURI,
		ReportSample: s.ReportSample,
		HasNone:      s.HasNone,
		UseNonce:     s.UseNonce,
	}
	d.Normalize()
	return d
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.ListenAddr = ":8080"
	c.ReportPath = "/csp/v1/report"
	c.AcceptReports = true
	c.NonceLength = 16
	c.NonceInjectionMethod = "requirements"
	c.MinimumCSPLevel = int(policy.Level2)
	c.AdminPaths = []string{"/admin/**"}
	c.IncludeSubdomains = true
	c.MaxAge = policy.DefaultMaxAge
	c.PruneOlderThan = time.Hour
	c.PruneInterval = time.Hour
	c.LogFormat = "cli"
	c.LogLevel = "info"
}

// ReportURL is the absolute URL of the built-in report endpoint, "" without
// a base URL.
func (c *Config) ReportURL() string {
	if c.BaseURL == "" {
		return ""
	}
	path := c.ReportPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(c.BaseURL, "/") + path
}

// Load builds a Config from defaults, the YAML file named by -c or
// CSP_CONFIG, the environment and finally args (os.Args[1:] in binaries).
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseYAML(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
