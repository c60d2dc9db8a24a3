package inject

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

var (
	targetSelectors = map[string]string{
		"script-src": "script",
		"style-src":  "style",
	}
)

// Document tags a complete rendered HTML page.
type Document struct{}

// Inject parses markup as a full document, tags every applicable element and
// renders the document again. The parser is the lenient HTML5 one, so
// unbalanced or partial markup is repaired rather than rejected.
func (Document) Inject(markup []byte, nonce string, t Targets) ([]byte, error) {
	if nonce == "" || !t.Any() || len(markup) == 0 {
		return markup, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return markup, errors.Wrap(err, "inject: parsing document")
	}

	var selectors []string
	if t.Scripts {
		selectors = append(selectors, targetSelectors["script-src"])
	}
	if t.Styles {
		selectors = append(selectors, targetSelectors["style-src"])
	}

	doc.Find(strings.Join(selectors, ", ")).Each(func(i int, s *goquery.Selection) {
		if applicable(s.Nodes[0], t) {
			setNonce(s.Nodes[0], nonce)
		}
	})

	out, err := doc.Html()
	if err != nil {
		return markup, errors.Wrap(err, "inject: rendering document")
	}
	return []byte(out), nil
}

// InsertMeta places tag as the first child of <head>. A document that
// already holds the same tag is returned unchanged.
func InsertMeta(markup []byte, tag string) ([]byte, error) {
	if tag == "" {
		return markup, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return markup, errors.Wrap(err, "inject: parsing document")
	}

	want, err := goquery.NewDocumentFromReader(strings.NewReader(tag))
	if err != nil {
		return markup, errors.Wrap(err, "inject: parsing meta tag")
	}
	content := want.Find("meta").AttrOr("content", "")

	exists := false
	doc.Find("head meta[http-equiv]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if strings.EqualFold(s.AttrOr("http-equiv", ""), "content-security-policy") && s.AttrOr("content", "") == content {
			exists = true
		}
		return !exists
	})
	if !exists {
		doc.Find("head").First().PrependHtml(tag)
	}

	out, err := doc.Html()
	if err != nil {
		return markup, errors.Wrap(err, "inject: rendering document")
	}
	return []byte(out), nil
}
