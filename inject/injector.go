// Package inject attaches the request nonce to inline <script> and <style>
// elements. Two strategies exist: Fragment tags generated markup before it is
// placed into a page, Document rewrites the rendered page. A deployment uses
// exactly one of them.
package inject

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/secinto/go-csp-policy/policy"
	"golang.org/x/net/html"
)

// Targets selects which element kinds receive the nonce.
type Targets struct {
	Scripts bool
	Styles  bool
}

// AllTargets tags both scripts and styles.
var AllTargets = Targets{Scripts: true, Styles: true}

// Any reports whether at least one element kind is selected.
func (t Targets) Any() bool {
	return t.Scripts || t.Styles
}

// TargetsFor derives targets from a serialized policy: scripts when
// script-src carries a nonce, styles when style-src does.
func TargetsFor(policyString string) Targets {
	d := policy.NonceEnabledDirectives(policyString)
	return Targets{Scripts: d[policy.ScriptSrc], Styles: d[policy.StyleSrc]}
}

// Injector adds nonce attributes to markup.
type Injector interface {
	Inject(markup []byte, nonce string, t Targets) ([]byte, error)
}

// Strategy names where nonce injection happens.
type Strategy string

const (
	// StrategyRequirements tags generated script/style fragments.
	StrategyRequirements Strategy = "requirements"
	// StrategyMiddleware rewrites the rendered document.
	StrategyMiddleware Strategy = "middleware"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyRequirements, StrategyMiddleware:
		return st, nil
	case "":
		return StrategyRequirements, nil
	}
	return "", errors.Errorf("inject: unknown nonce injection method %q", s)
}

// Select returns the pre-render and post-render injectors for s. The one not
// selected is a Noop so the two never both tag the same page.
func Select(s Strategy) (pre, post Injector) {
	if s == StrategyMiddleware {
		return Noop{}, Document{}
	}
	return Fragment{}, Noop{}
}

// Noop leaves markup untouched.
type Noop struct{}

// Inject implements Injector.
func (Noop) Inject(markup []byte, _ string, _ Targets) ([]byte, error) {
	return markup, nil
}

func applicable(n *html.Node, t Targets) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch strings.ToLower(n.Data) {
	case "script":
		if !t.Scripts || hasAttr(n, "src") {
			return false
		}
	case "style":
		if !t.Styles {
			return false
		}
	default:
		return false
	}
	return attr(n, "nonce") == ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func setNonce(n *html.Node, nonce string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, "nonce") {
			n.Attr[i].Val = nonce
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "nonce", Val: nonce})
}
