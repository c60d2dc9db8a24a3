package audit

import (
	"encoding/base64"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/secinto/go-csp-policy/policy"
)

// Reasons reported in findings.
const (
	ReasonMissingNonce = "inline element without nonce"
	ReasonWrongNonce   = "nonce does not match the policy"
	ReasonInline       = "inline element not allowed"
)

var htmlDirectiveElements = map[string]string{
	policy.ScriptSrc: "script",
	policy.StyleSrc:  "style",
}

// directive is the parsed value of one fetch directive.
type directive struct {
	name         string
	value        string
	nonces       map[string]bool
	hashes       []HashSource
	unsafeInline bool
}

func parseDirective(name, value string) directive {
	d := directive{name: name, value: value, nonces: map[string]bool{}}
	for _, tok := range strings.Fields(value) {
		lower := strings.ToLower(tok)
		switch {
		case lower == policy.SourceUnsafeInline:
			d.unsafeInline = true
		case strings.HasPrefix(lower, "'nonce-") && strings.HasSuffix(tok, "'"):
			d.nonces[tok[len("'nonce-"):len(tok)-1]] = true
		default:
			for alg, fn := range hashAlgorithms {
				prefix := "'" + alg + "-"
				if strings.HasPrefix(lower, prefix) && strings.HasSuffix(tok, "'") {
					d.hashes = append(d.hashes, HashSource{Algorithm: fn, Value: tok[len(prefix) : len(tok)-1]})
				}
			}
		}
	}
	return d
}

// lookup returns the directive governing name, falling back to default-src.
func lookup(parsed map[string]string, name string) (directive, bool) {
	if v, ok := parsed[name]; ok {
		return parseDirective(name, v), true
	}
	if v, ok := parsed[policy.DefaultSrc]; ok {
		return parseDirective(policy.DefaultSrc, v), true
	}
	return directive{}, false
}

// allowInline decides whether an inline element passes d. With a nonce or
// hash present, 'unsafe-inline' is ignored as browsers do.
func (d directive) allowInline(ctx SourceContext) (bool, string) {
	if ctx.Nonce != "" && d.nonces[ctx.Nonce] {
		return true, ""
	}
	for _, h := range d.hashes {
		sum := h.Algorithm()
		sum.Write(ctx.Body)
		if base64.StdEncoding.EncodeToString(sum.Sum(nil)) == h.Value {
			return true, ""
		}
	}
	if len(d.nonces) > 0 || len(d.hashes) > 0 {
		if ctx.Nonce == "" {
			return false, ReasonMissingNonce
		}
		return false, ReasonWrongNonce
	}
	if d.unsafeInline {
		return true, ""
	}
	return false, ReasonInline
}

// CheckPage checks the inline <script> and <style> elements of html against
// policyString. It returns whether the page passes and what would be blocked.
func CheckPage(policyString string, page url.URL, html io.Reader) (bool, []Finding, error) {
	doc, err := goquery.NewDocumentFromReader(html)
	if err != nil {
		return false, nil, errors.Wrap(err, "parsing page")
	}
	parsed := policy.ParsePolicy(policyString)

	var findings []Finding
	for _, name := range []string{policy.ScriptSrc, policy.StyleSrc} {
		d, ok := lookup(parsed, name)
		if !ok {
			continue
		}
		doc.Find(htmlDirectiveElements[name]).Each(func(i int, s *goquery.Selection) {
			if _, external := s.Attr("src"); external {
				return
			}
			ctx := SourceContext{
				Page:   page,
				Inline: true,
				Nonce:  s.AttrOr("nonce", ""),
				Body:   []byte(s.Text()),
			}
			if ok, reason := d.allowInline(ctx); !ok {
				findings = append(findings, Finding{
					Document:      page.String(),
					Element:       goquery.NodeName(s),
					DirectiveName: d.name,
					Directive:     d.value,
					Reason:        reason,
					Context:       ctx,
				})
			}
		})
	}
	return len(findings) == 0, findings, nil
}
