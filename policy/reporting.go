package policy

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// ValidateURL returns s when it is an absolute https URL with a host and ""
// otherwise. Reporting features treat "" as not configured.
func ValidateURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return s
}

// Endpoint is a named Reporting-Endpoints entry.
type Endpoint struct {
	Name string
	URL  string
}

// ReportToEndpoint is one URL inside a Report-To group.
type ReportToEndpoint struct {
	URL string `json:"url"`
}

// ReportToGroup is a Report-To header group.
type ReportToGroup struct {
	Group             string             `json:"group"`
	MaxAge            int                `json:"max_age"`
	IncludeSubdomains bool               `json:"include_subdomains"`
	Endpoints         []ReportToEndpoint `json:"endpoints"`
}

// NELPolicy is the value of the NEL header.
type NELPolicy struct {
	ReportTo          string `json:"report_to"`
	MaxAge            int    `json:"max_age"`
	IncludeSubdomains bool   `json:"include_subdomains"`
}

// ReportingEndpointsHeader renders name="url" pairs joined by ','. Entries
// with an invalid URL are dropped.
func ReportingEndpointsHeader(endpoints []Endpoint) string {
	parts := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		u := ValidateURL(e.URL)
		if e.Name == "" || u == "" {
			continue
		}
		parts = append(parts, e.Name+`="`+u+`"`)
	}
	return strings.Join(parts, ",")
}

// ReportToHeader renders groups as a JSON array without its outer brackets,
// as the Reporting API expects. Groups without a name are skipped and
// endpoint URLs failing validation are removed.
func ReportToHeader(groups []ReportToGroup) string {
	out := make([]ReportToGroup, 0, len(groups))
	for _, g := range groups {
		if g.Group == "" {
			continue
		}
		endpoints := make([]ReportToEndpoint, 0, len(g.Endpoints))
		for _, e := range g.Endpoints {
			if u := ValidateURL(e.URL); u != "" {
				endpoints = append(endpoints, ReportToEndpoint{URL: u})
			}
		}
		g.Endpoints = endpoints
		out = append(out, g)
	}
	if len(out) == 0 {
		return ""
	}
	v := marshal(out)
	v = strings.TrimPrefix(v, "[")
	return strings.TrimSuffix(v, "]")
}

// NELHeader renders the NEL header value.
func NELHeader(n NELPolicy) string {
	return marshal(n)
}

func marshal(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
