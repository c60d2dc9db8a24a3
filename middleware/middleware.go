// Package middleware applies the stored policies to HTTP responses.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/secinto/go-csp-policy/config"
	"github.com/secinto/go-csp-policy/inject"
	"github.com/secinto/go-csp-policy/logging"
	"github.com/secinto/go-csp-policy/nonce"
	"github.com/secinto/go-csp-policy/policy"
	"github.com/secinto/go-csp-policy/store"
)

// Enabler is implemented by handlers that decide per request whether the
// policy applies to them.
type Enabler interface {
	EnableContentSecurityPolicy(r *http.Request) bool
}

// PageHandler is implemented by handlers serving a page that may carry its
// own policy. Page handlers always get the policy applied.
type PageHandler interface {
	CSPPageID(r *http.Request) (string, bool)
}

// PolicySource looks up the policies in force.
type PolicySource interface {
	BasePolicy(ctx context.Context, live bool, method policy.DeliveryMethod) (*policy.Policy, error)
	PagePolicy(ctx context.Context, pageID string, live bool, method policy.DeliveryMethod) (*policy.Policy, error)
}

// Options configure a Middleware.
type Options struct {
	NonceLength int
	Strategy    inject.Strategy
	// Live skips draft policies.
	Live bool

	ReportingURL      string
	MaxAge            int
	IncludeSubdomains bool

	RunInAdmin    bool
	AdminPaths    []string
	ExcludedPaths []string
	IncludedPaths []string

	OverrideApply bool
	Disabled      bool
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	strategy, err := inject.ParseStrategy(cfg.NonceInjectionMethod)
	if err != nil {
		return Options{}, err
	}
	return Options{
		NonceLength:       cfg.NonceLength,
		Strategy:          strategy,
		Live:              true,
		ReportingURL:      cfg.ReportURL(),
		MaxAge:            cfg.MaxAge,
		IncludeSubdomains: cfg.IncludeSubdomains,
		RunInAdmin:        cfg.RunInAdmin,
		AdminPaths:        cfg.AdminPaths,
		ExcludedPaths:     cfg.ExcludedPaths,
		IncludedPaths:     cfg.IncludedPaths,
		OverrideApply:     cfg.OverrideApply,
		Disabled:          cfg.Disabled,
	}, nil
}

// Middleware adds the CSP headers, meta tag and nonces to responses.
type Middleware struct {
	src  PolicySource
	opts Options
	log  logging.Logger

	admin, excluded, included []glob.Glob
	pre, post                 inject.Injector
}

// New compiles the path lists of opts.
func New(src PolicySource, opts Options, log logging.Logger) (*Middleware, error) {
	m := &Middleware{src: src, opts: opts, log: logging.OrNop(log)}
	m.pre, m.post = inject.Select(opts.Strategy)

	var err error
	if m.admin, err = compile(opts.AdminPaths); err != nil {
		return nil, err
	}
	if m.excluded, err = compile(opts.ExcludedPaths); err != nil {
		return nil, err
	}
	if m.included, err = compile(opts.IncludedPaths); err != nil {
		return nil, err
	}
	return m, nil
}

func compile(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "compiling path pattern %q", p)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// CanApply reports whether the policy is applied to r served by h.
func (m *Middleware) CanApply(r *http.Request, h http.Handler) bool {
	switch {
	case m.opts.Disabled:
		return false
	case m.opts.OverrideApply:
		return true
	}

	path := r.URL.Path
	switch {
	case matchAny(m.admin, path):
		return m.opts.RunInAdmin
	case matchAny(m.excluded, path):
		return false
	case matchAny(m.included, path):
		return true
	}

	if _, ok := h.(PageHandler); ok {
		return true
	}
	if e, ok := h.(Enabler); ok {
		return e.EnableContentSecurityPolicy(r)
	}
	return false
}

// Requirements returns an empty asset set bound to the pre-render injector.
func (m *Middleware) Requirements() *inject.Requirements {
	return inject.NewRequirements(m.pre)
}

// Nonce returns the request nonce, creating it on first use. Requests that
// did not pass through the middleware have no nonce.
func Nonce(r *http.Request) (string, error) {
	return nonce.Get(r.Context())
}

// resolve returns the policy for the delivery method: the base policy merged
// with the page policy, or whichever of the two exists. Lookup failures are
// logged and treated as no policy.
func (m *Middleware) resolve(ctx context.Context, pageID string, method policy.DeliveryMethod) *policy.Policy {
	base, err := m.src.BasePolicy(ctx, m.opts.Live, method)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Error(ctx, "loading base policy", "error", err, "delivery", string(method))
		}
		base = nil
	}

	var page *policy.Policy
	if pageID != "" {
		page, err = m.src.PagePolicy(ctx, pageID, m.opts.Live, method)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				m.log.Error(ctx, "loading page policy", "error", err, "page", pageID, "delivery", string(method))
			}
			page = nil
		}
	}

	switch {
	case base != nil && page != nil:
		return base.WithMergeFrom(page)
	case base != nil:
		return base
	default:
		return page
	}
}

// Wrap returns h with the policy applied.
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := nonce.NewProvider(m.opts.NonceLength)
		r = r.WithContext(nonce.NewContext(r.Context(), provider))

		if !m.CanApply(r, h) {
			h.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		var pageID string
		if ph, ok := h.(PageHandler); ok {
			if id, ok := ph.CSPPageID(r); ok {
				pageID = id
			}
		}

		headerPolicy := m.resolve(ctx, pageID, policy.DeliveryHeader)
		metaPolicy := m.resolve(ctx, pageID, policy.DeliveryMetaTag)
		if headerPolicy == nil && metaPolicy == nil {
			h.ServeHTTP(w, r)
			return
		}

		n, err := provider.Get()
		if err != nil {
			m.log.Error(ctx, "creating nonce", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		opts := policy.Options{
			Nonce:             n,
			ReportingURL:      m.opts.ReportingURL,
			MaxAge:            m.opts.MaxAge,
			IncludeSubdomains: m.opts.IncludeSubdomains,
		}

		var targets inject.Targets
		if headerPolicy != nil {
			if data := headerPolicy.Data(opts); data != nil {
				setHeaders(w.Header(), data)
				targets = union(targets, inject.TargetsFor(data.Policy))
			}
		}
		var metaTag string
		if metaPolicy != nil {
			if data := metaPolicy.Data(opts); data != nil {
				metaTag = policy.MetaTag(data)
				targets = union(targets, inject.TargetsFor(data.Policy))
			}
		}

		_, postActive := m.post.(inject.Noop)
		postActive = !postActive && targets.Any()
		if metaTag == "" && !postActive {
			h.ServeHTTP(w, r)
			return
		}

		buf := newBufferedWriter(w)
		h.ServeHTTP(buf, r)

		body := buf.body.Bytes()
		if isHTML(w.Header(), body) {
			body = m.rewrite(ctx, body, metaTag, n, targets, postActive)
		}
		w.Header().Del("Content-Length")
		w.WriteHeader(buf.status)
		if _, err := w.Write(body); err != nil {
			m.log.Debug(ctx, "writing response", "error", err)
		}
	})
}

func (m *Middleware) rewrite(ctx context.Context, body []byte, metaTag, n string, targets inject.Targets, postActive bool) []byte {
	if metaTag != "" {
		out, err := inject.InsertMeta(body, metaTag)
		if err != nil {
			m.log.Warn(ctx, "inserting CSP meta tag", "error", err)
		} else {
			body = out
		}
	}
	if postActive {
		out, err := m.post.Inject(body, n, targets)
		if err != nil {
			m.log.Warn(ctx, "injecting nonces", "error", err)
		} else {
			body = out
		}
	}
	return body
}

func setHeaders(h http.Header, data *policy.Data) {
	if data.ReportTo != "" {
		h.Set(policy.HeaderReportTo, data.ReportTo)
	}
	if data.NEL != "" {
		h.Set(policy.HeaderNEL, data.NEL)
	}
	if data.ReportingEndpoints != "" {
		h.Set(policy.HeaderReportingEndpoints, data.ReportingEndpoints)
	}
	h.Set(data.Header, data.Policy)
}

func union(a, b inject.Targets) inject.Targets {
	return inject.Targets{Scripts: a.Scripts || b.Scripts, Styles: a.Styles || b.Styles}
}
