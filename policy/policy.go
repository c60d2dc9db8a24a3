// Package policy models Content Security Policies and composes the response
// headers (or meta tag) that deliver them.
package policy

import (
	"html"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalid is returned by Validate for policies an operator must fix.
var ErrInvalid = errors.New("invalid policy")

// Policy is a named set of directives plus its delivery and reporting
// settings. At most one enabled policy is the base policy of a site; page
// policies are merged into it at request time.
type Policy struct {
	ID                    int64
	Title                 string
	Enabled               bool
	IsBasePolicy          bool
	IsLive                bool
	ReportOnly            bool
	DeliveryMethod        DeliveryMethod
	MinimumCSPLevel       CSPLevel
	SendViolationReports  bool
	EnableNEL             bool
	AlternateReportURI    string
	AlternateReportToURI  string
	AlternateNELReportURI string

	Directives []*Directive

	// merge source for header composition only, never stored
	mergeFrom *Policy
}

// New returns a policy with the defaults used for newly created records:
// disabled, report-only, CSP level 2, delivered as a header.
func New(title string) *Policy {
	return &Policy{
		Title:           title,
		ReportOnly:      true,
		DeliveryMethod:  DeliveryHeader,
		MinimumCSPLevel: Level2,
	}
}

// Options are the per-request inputs to policy composition.
type Options struct {
	// Nonce is substituted into directives using the request nonce.
	Nonce string
	// IncludeDisabled composes disabled directives too, for previews.
	IncludeDisabled bool
	// ReportingURL is the absolute URL of the built-in reporting endpoint.
	ReportingURL string
	// MaxAge of reporting groups in seconds; DefaultMaxAge when zero.
	MaxAge int
	// IncludeSubdomains is copied into NEL and Report-To groups.
	IncludeSubdomains bool
}

// Data is the result of composing a policy for one response.
type Data struct {
	Header             string
	Policy             string
	ReportTo           string
	ReportingEndpoints string
	NEL                string
}

// WithMergeFrom returns a copy of p that merges the directives of other
// during composition. p itself is unchanged.
func (p *Policy) WithMergeFrom(other *Policy) *Policy {
	c := *p
	c.mergeFrom = other
	return &c
}

// MergeFrom returns the merge source set by WithMergeFrom, if any.
func (p *Policy) MergeFrom() *Policy {
	return p.mergeFrom
}

// sortedDirectives returns the directives in ascending id order, optionally
// only the enabled ones.
func (p *Policy) sortedDirectives(includeDisabled bool) []*Directive {
	out := make([]*Directive, 0, len(p.Directives))
	for _, d := range p.Directives {
		if d == nil || (!includeDisabled && !d.Enabled) {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// String composes the raw policy: one line per directive in id order. With
// a merge source, directives sharing a key get the source tokens appended
// after their own, and source-only directives follow as extra lines.
func (p *Policy) String(opts Options) string {
	primary := p.sortedDirectives(opts.IncludeDisabled)
	var merge []*Directive
	if p.mergeFrom != nil {
		merge = p.mergeFrom.sortedDirectives(opts.IncludeDisabled)
	}

	var b strings.Builder
	keys := make(map[string]bool, len(primary))
	for _, d := range primary {
		tokens := d.Tokens(opts.Nonce)
		if m := firstWithKey(merge, d.Key); m != nil {
			tokens = appendUnique(tokens, m.Tokens(opts.Nonce))
		}
		b.WriteString(line(d.Key, tokens))
		keys[d.Key] = true
	}
	for _, m := range merge {
		if keys[m.Key] {
			continue
		}
		b.WriteString(m.Line(opts.Nonce))
	}
	return b.String()
}

func firstWithKey(directives []*Directive, key string) *Directive {
	for _, d := range directives {
		if d.Key == key {
			return d
		}
	}
	return nil
}

func appendUnique(tokens, extra []string) []string {
	seen := make(map[string]bool, len(tokens)+len(extra))
	for _, t := range tokens {
		seen[t] = true
	}
	for _, t := range extra {
		if seen[t] {
			continue
		}
		seen[t] = true
		tokens = append(tokens, t)
	}
	return tokens
}

// Data composes the header data for a response. It returns nil when there is
// nothing to send: the policy has no directives left after filtering, or it
// is report-only but delivered by meta tag, which browsers do not support.
func (p *Policy) Data(opts Options) *Data {
	s := strings.TrimSpace(p.String(opts))
	if s == "" {
		return nil
	}

	header := HeaderCSP
	if p.ReportOnly {
		if p.DeliveryMethod == DeliveryMetaTag {
			return nil
		}
		header = HeaderCSPReportOnly
	}

	maxAge := opts.MaxAge
	if maxAge < 0 {
		maxAge = -maxAge
	}
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}

	data := &Data{Header: header}

	if reportingURL := p.CSPReportingEnabled(opts.ReportingURL); reportingURL != "" {
		if p.MinimumCSPLevel < Level3 {
			s += ReportURI + " " + reportingURL + ";"
		}
		s += ReportTo + " " + ReportingGroup + ";"

		apiURL := p.ReportingAPIURL()
		if apiURL == "" {
			apiURL = reportingURL
		}
		data.ReportingEndpoints = ReportingEndpointsHeader([]Endpoint{{Name: ReportingGroup, URL: apiURL}})
	}

	if nelURL := p.NELReportURL(); nelURL != "" {
		data.NEL = NELHeader(NELPolicy{
			ReportTo:          NELGroup,
			MaxAge:            maxAge,
			IncludeSubdomains: opts.IncludeSubdomains,
		})
		data.ReportTo = ReportToHeader([]ReportToGroup{{
			Group:             NELGroup,
			MaxAge:            maxAge,
			IncludeSubdomains: opts.IncludeSubdomains,
			Endpoints:         []ReportToEndpoint{{URL: nelURL}},
		}})
	}

	data.Policy = s
	return data
}

// ReportingURL is the validated report-uri target: the alternate URL when
// set, otherwise builtin.
func (p *Policy) ReportingURL(builtin string) string {
	if p.AlternateReportURI != "" {
		return ValidateURL(p.AlternateReportURI)
	}
	return ValidateURL(builtin)
}

// ReportingAPIURL is the validated Reporting API URL, "" when not set.
func (p *Policy) ReportingAPIURL() string {
	return ValidateURL(p.AlternateReportToURI)
}

// CSPReportingEnabled returns the reporting URL when violation reports are
// to be sent for this policy, "" otherwise.
func (p *Policy) CSPReportingEnabled(builtin string) string {
	if p.DeliveryMethod != DeliveryHeader || !p.SendViolationReports {
		return ""
	}
	return p.ReportingURL(builtin)
}

// NELReportURL returns the NEL reporting URL when Network Error Logging is
// enabled for this policy, "" otherwise.
func (p *Policy) NELReportURL() string {
	if p.DeliveryMethod != DeliveryHeader || !p.EnableNEL {
		return ""
	}
	return ValidateURL(p.AlternateNELReportURI)
}

// DuplicateKeys lists directive keys linked to the policy more than once.
func (p *Policy) DuplicateKeys() []string {
	counts := make(map[string]int)
	for _, d := range p.Directives {
		counts[d.Key]++
	}
	var keys []string
	for k, n := range counts {
		if n > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the fields an operator controls.
func (p *Policy) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Title) == "" {
		problems = append(problems, "title is required")
	}
	if !p.DeliveryMethod.Valid() {
		problems = append(problems, "unknown delivery method "+string(p.DeliveryMethod))
	}
	if p.MinimumCSPLevel < Level1 || p.MinimumCSPLevel > Level3 {
		problems = append(problems, "minimum CSP level must be 1, 2 or 3")
	}
	if p.AlternateReportURI != "" && ValidateURL(p.AlternateReportURI) == "" {
		problems = append(problems, "the reporting URL is not valid")
	}
	if p.AlternateReportToURI != "" && ValidateURL(p.AlternateReportToURI) == "" {
		problems = append(problems, "the Reporting API URL is not valid")
	}
	if p.AlternateNELReportURI != "" && ValidateURL(p.AlternateNELReportURI) == "" {
		problems = append(problems, "the NEL reporting URL is not valid")
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Warnings lists settings that are valid but probably unintended.
func (p *Policy) Warnings() []string {
	var out []string
	if keys := p.DuplicateKeys(); len(keys) > 0 {
		out = append(out, "duplicate directives: "+strings.Join(keys, ", "))
	}
	if p.ReportOnly && p.DeliveryMethod == DeliveryMetaTag {
		out = append(out, "report-only is ignored for meta tag delivery")
	}
	if p.DeliveryMethod == DeliveryMetaTag && (p.SendViolationReports || p.EnableNEL) {
		out = append(out, "reporting is not supported for meta tag delivery")
	}
	legacy := ValidateURL(p.AlternateReportURI)
	api := p.ReportingAPIURL()
	if p.SendViolationReports && p.MinimumCSPLevel < Level3 && legacy != "" && api != "" && legacy != api {
		out = append(out, "report-uri and Reporting-Endpoints use different URLs")
	}
	return out
}

// Clone returns a deep copy of p, merge source excluded.
func (p *Policy) Clone() *Policy {
	c := *p
	c.mergeFrom = nil
	if p.Directives != nil {
		c.Directives = make([]*Directive, len(p.Directives))
		for i, d := range p.Directives {
			c.Directives[i] = d.Clone()
		}
	}
	return &c
}

// MetaTag renders data as a CSP meta element. Only enforcing policies can be
// delivered this way; anything else renders as "".
func MetaTag(data *Data) string {
	if data == nil || data.Header != HeaderCSP || data.Policy == "" {
		return ""
	}
	return `<meta http-equiv="` + HeaderCSP + `" content="` + html.EscapeString(data.Policy) + `">`
}
