// Package report receives CSP violation reports sent by browsers.
package report

import (
	"encoding/json"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Accepted request content types.
const (
	ContentTypeCSPReport   = "application/csp-report"
	ContentTypeReportsJSON = "application/reports+json"
)

// Path is where the built-in reporting endpoint is mounted.
const Path = "/csp/v1/report"

// URL returns the absolute URL of the built-in endpoint below baseURL.
func URL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + Path
}

// ViolationReport is one violation as received from a browser. Reports are
// never modified after they are stored.
type ViolationReport struct {
	ID                 uuid.UUID
	DocumentURI        string
	Referrer           string
	BlockedURI         string
	ViolatedDirective  string
	EffectiveDirective string
	OriginalPolicy     string
	SourceFile         string
	LineNumber         int
	ColumnNumber       int
	Disposition        string
	StatusCode         int
	UserAgent          string
	ScriptSample       string
	CreatedAt          time.Time
}

// legacyReport is the body of an application/csp-report request.
type legacyReport struct {
	Report *struct {
		DocumentURI        string `json:"document-uri"`
		Referrer           string `json:"referrer"`
		BlockedURI         string `json:"blocked-uri"`
		ViolatedDirective  string `json:"violated-directive"`
		EffectiveDirective string `json:"effective-directive"`
		OriginalPolicy     string `json:"original-policy"`
		SourceFile         string `json:"source-file"`
		LineNumber         int    `json:"line-number"`
		ColumnNumber       int    `json:"column-number"`
		Disposition        string `json:"disposition"`
		StatusCode         int    `json:"status-code"`
		ScriptSample       string `json:"script-sample"`
	} `json:"csp-report"`
}

// envelope is one entry of an application/reports+json request.
type envelope struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	UserAgent string `json:"user_agent"`
	Body      struct {
		DocumentURL        string `json:"documentURL"`
		Referrer           string `json:"referrer"`
		BlockedURL         string `json:"blockedURL"`
		EffectiveDirective string `json:"effectiveDirective"`
		OriginalPolicy     string `json:"originalPolicy"`
		SourceFile         string `json:"sourceFile"`
		LineNumber         int    `json:"lineNumber"`
		ColumnNumber       int    `json:"columnNumber"`
		Disposition        string `json:"disposition"`
		StatusCode         int    `json:"statusCode"`
		Sample             string `json:"sample"`
	} `json:"body"`
}

// MediaType returns the lower-cased media type of a Content-Type header
// value without parameters.
func MediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// Accepted reports whether contentType is one of the report formats.
func Accepted(contentType string) bool {
	switch MediaType(contentType) {
	case ContentTypeCSPReport, ContentTypeReportsJSON:
		return true
	}
	return false
}

// ParseAll decodes every CSP violation in body. Unsupported content types
// and malformed JSON yield no reports. userAgent is used when the payload
// does not name one.
func ParseAll(body []byte, contentType, userAgent string) []ViolationReport {
	switch MediaType(contentType) {
	case ContentTypeCSPReport:
		var l legacyReport
		if err := json.Unmarshal(body, &l); err != nil || l.Report == nil {
			return nil
		}
		r := l.Report
		return []ViolationReport{{
			DocumentURI:        r.DocumentURI,
			Referrer:           r.Referrer,
			BlockedURI:         r.BlockedURI,
			ViolatedDirective:  r.ViolatedDirective,
			EffectiveDirective: r.EffectiveDirective,
			OriginalPolicy:     r.OriginalPolicy,
			SourceFile:         r.SourceFile,
			LineNumber:         r.LineNumber,
			ColumnNumber:       r.ColumnNumber,
			Disposition:        r.Disposition,
			StatusCode:         r.StatusCode,
			ScriptSample:       r.ScriptSample,
			UserAgent:          userAgent,
		}}

	case ContentTypeReportsJSON:
		var envelopes []envelope
		if err := json.Unmarshal(body, &envelopes); err != nil {
			return nil
		}
		var out []ViolationReport
		for _, e := range envelopes {
			if e.Type != "csp-violation" {
				continue
			}
			ua := e.UserAgent
			if ua == "" {
				ua = userAgent
			}
			doc := e.Body.DocumentURL
			if doc == "" {
				doc = e.URL
			}
			out = append(out, ViolationReport{
				DocumentURI:        doc,
				Referrer:           e.Body.Referrer,
				BlockedURI:         e.Body.BlockedURL,
				ViolatedDirective:  e.Body.EffectiveDirective,
				EffectiveDirective: e.Body.EffectiveDirective,
				OriginalPolicy:     e.Body.OriginalPolicy,
				SourceFile:         e.Body.SourceFile,
				LineNumber:         e.Body.LineNumber,
				ColumnNumber:       e.Body.ColumnNumber,
				Disposition:        e.Body.Disposition,
				StatusCode:         e.Body.StatusCode,
				ScriptSample:       e.Body.Sample,
				UserAgent:          ua,
			})
		}
		return out
	}
	return nil
}

// Parse returns the first violation in body, or nil.
func Parse(body []byte, contentType string) *ViolationReport {
	reports := ParseAll(body, contentType, "")
	if len(reports) == 0 {
		return nil
	}
	return &reports[0]
}
