package policy

import "strings"

// Rule is one operator supplied source expression with an optional note
// explaining why it was added.
type Rule struct {
	Source  string `json:"source" yaml:"source"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// Directive is a single named CSP rule. A directive may be linked into any
// number of policies.
type Directive struct {
	ID    int64
	Key   string
	Rules []Rule

	Enabled      bool
	IncludeSelf  bool
	UnsafeInline bool
	AllowDataURI bool
	ReportSample bool
	HasNone      bool
	UseNonce     bool
}

// SanitizeSource strips the CSP separators ';' and ',' from a source
// expression.
func SanitizeSource(s string) string {
	s = strings.ReplaceAll(s, ";", "")
	s = strings.ReplaceAll(s, ",", "")
	return strings.TrimSpace(s)
}

// Normalize prepares a directive for persistence. Value-less directives lose
// every rule and source flag.
func (d *Directive) Normalize() {
	d.Key = strings.ToLower(strings.TrimSpace(d.Key))
	if !IsValueless(d.Key) {
		return
	}
	d.Rules = nil
	d.IncludeSelf = false
	d.UnsafeInline = false
	d.AllowDataURI = false
	d.ReportSample = false
	d.HasNone = false
	d.UseNonce = false
}

// Tokens returns the source expressions of the directive: rules first, then
// the flag keywords. nonce is used verbatim for 'nonce-…'.
func (d *Directive) Tokens(nonce string) []string {
	if IsValueless(d.Key) {
		return nil
	}
	tokens := make([]string, 0, len(d.Rules)+6)
	for _, r := range d.Rules {
		if s := SanitizeSource(r.Source); s != "" {
			tokens = append(tokens, s)
		}
	}
	if d.IncludeSelf {
		tokens = append(tokens, SourceSelf)
	}
	if d.UnsafeInline {
		tokens = append(tokens, SourceUnsafeInline)
	}
	if d.AllowDataURI {
		tokens = append(tokens, SourceData)
	}
	if d.ReportSample {
		tokens = append(tokens, SourceReportSample)
	}
	if d.HasNone {
		tokens = append(tokens, SourceNone)
	}
	if d.UseNonce {
		tokens = append(tokens, "'nonce-"+nonce+"'")
	}
	return tokens
}

// Value is the serialized directive value using the request nonce.
func (d *Directive) Value(nonce string) string {
	return strings.Join(d.Tokens(nonce), " ")
}

// DisplayValue is the directive value with a placeholder nonce, for listings.
func (d *Directive) DisplayValue() string {
	return d.Value(SampleNonce)
}

// Line renders the directive as a policy line terminated by ';'.
func (d *Directive) Line(nonce string) string {
	return line(d.Key, d.Tokens(nonce))
}

func line(key string, tokens []string) string {
	if len(tokens) == 0 {
		return key + ";"
	}
	return key + " " + strings.Join(tokens, " ") + ";"
}

// Title is a short human label, truncated for list views.
func (d *Directive) Title() string {
	t := strings.TrimSpace(d.Key + " " + d.DisplayValue())
	if len(t) > 100 {
		return t[:100] + "..."
	}
	return t
}

// Clone returns a deep copy of d.
func (d *Directive) Clone() *Directive {
	c := *d
	if d.Rules != nil {
		c.Rules = make([]Rule, len(d.Rules))
		copy(c.Rules, d.Rules)
	}
	return &c
}
