package audit

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/pkg/errors"

	"github.com/secinto/go-csp-policy/logging"
	"github.com/secinto/go-csp-policy/policy"
)

// Where a fetched policy was found.
const (
	SourceHeader           = "header"
	SourceHeaderReportOnly = "header-report-only"
	SourceMeta             = "meta"
)

// maxRefreshHops bounds how many meta refresh redirects are followed.
const maxRefreshHops = 5

// maxPageSize caps the bytes read from a fetched page.
const maxPageSize = 8 << 20

// Fetched is a page retrieved together with the policy it is served with.
type Fetched struct {
	URL    *url.URL
	Policy string
	Source string
	Body   string
}

// Fetcher retrieves pages and their CSP.
type Fetcher struct {
	Client *http.Client
	Logger logging.Logger
}

// NewFetcher returns a Fetcher with a 5 second client timeout.
func NewFetcher(log logging.Logger) *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 5 * time.Second}, Logger: log}
}

// Fetch downloads address, following HTTP and meta refresh redirects, and
// returns the enforcing policy of the final page: the header, the meta tag,
// or the report-only header when nothing enforces.
func (f *Fetcher) Fetch(ctx context.Context, address string) (*Fetched, error) {
	log := logging.OrNop(f.Logger)
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
		if err != nil {
			return nil, errors.Wrap(err, "creating request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "making request")
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
		_ = resp.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "reading response")
		}

		doc, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "parsing page")
		}

		var refresh, metaPolicy string
		for _, n := range htmlquery.Find(doc, "//meta[@http-equiv]") {
			equiv := strings.ToLower(htmlquery.SelectAttr(n, "http-equiv"))
			content := htmlquery.SelectAttr(n, "content")
			switch equiv {
			case "refresh":
				refresh = refreshURL(content)
			case strings.ToLower(policy.HeaderCSP):
				if metaPolicy == "" {
					metaPolicy = content
				}
			}
		}

		finalURL := resp.Request.URL
		if refresh != "" && hop < maxRefreshHops {
			target, err := url.Parse(refresh)
			if err != nil {
				log.Warn(ctx, "ignoring unparsable refresh URL", "url", refresh, "error", err)
			} else {
				address = finalURL.ResolveReference(target).String()
				log.Debug(ctx, "following meta refresh", "url", address)
				continue
			}
		}

		out := &Fetched{URL: finalURL, Body: string(body)}
		switch {
		case resp.Header.Get(policy.HeaderCSP) != "":
			out.Policy, out.Source = resp.Header.Get(policy.HeaderCSP), SourceHeader
		case metaPolicy != "":
			out.Policy, out.Source = metaPolicy, SourceMeta
		case resp.Header.Get(policy.HeaderCSPReportOnly) != "":
			out.Policy, out.Source = resp.Header.Get(policy.HeaderCSPReportOnly), SourceHeaderReportOnly
		}
		log.Info(ctx, "fetched page", "url", finalURL.String(), "source", out.Source)
		return out, nil
	}
}

// refreshURL extracts the url= part of a meta refresh content value.
func refreshURL(content string) string {
	for _, part := range strings.Split(content, ";") {
		part = strings.TrimSpace(part)
		if len(part) > 4 && strings.EqualFold(part[:4], "url=") {
			return strings.Trim(strings.TrimSpace(part[4:]), `'"`)
		}
	}
	return ""
}
