package inject

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Fragment tags generated markup that is not a complete document, such as
// the script and style tags built by Requirements.
type Fragment struct{}

// Inject parses markup in a <body> context, tags applicable elements and
// renders the nodes back in order.
func (Fragment) Inject(markup []byte, nonce string, t Targets) ([]byte, error) {
	if nonce == "" || !t.Any() || len(markup) == 0 {
		return markup, nil
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(bytes.NewReader(markup), body)
	if err != nil {
		return markup, errors.Wrap(err, "inject: parsing fragment")
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		walk(n, func(n *html.Node) {
			if applicable(n, t) {
				setNonce(n, nonce)
			}
		})
		if err := html.Render(&buf, n); err != nil {
			return markup, errors.Wrap(err, "inject: rendering fragment")
		}
	}
	return buf.Bytes(), nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}
