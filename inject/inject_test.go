package inject

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNonce = "0123456789abcdef0123456789abcdef"

const page = `<!DOCTYPE html>
<html><head>
<title>t</title>
<link rel="stylesheet" href="/site.css">
<style>body { color: red; }</style>
<script src="/app.js"></script>
</head><body>
<script>console.log("inline")</script>
<script nonce="preset">console.log("preset")</script>
<style nonce="">p { margin: 0; }</style>
</body></html>`

type element struct {
	Tag   string
	Ref   string
	Nonce string
	Has   bool
}

func elements(t *testing.T, markup string) []element {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	var out []element
	doc.Find("script, style, link").Each(func(i int, s *goquery.Selection) {
		n, has := s.Attr("nonce")
		ref := s.AttrOr("src", s.AttrOr("href", strings.TrimSpace(s.Text())))
		out = append(out, element{Tag: goquery.NodeName(s), Ref: ref, Nonce: n, Has: has})
	})
	return out
}

func TestDocument_Inject(t *testing.T) {
	out, err := Document{}.Inject([]byte(page), testNonce, AllTargets)
	require.NoError(t, err)

	assert.Equal(t, []element{
		{Tag: "link", Ref: "/site.css"},
		{Tag: "style", Ref: "body { color: red; }", Nonce: testNonce, Has: true},
		{Tag: "script", Ref: "/app.js"},
		{Tag: "script", Ref: `console.log("inline")`, Nonce: testNonce, Has: true},
		{Tag: "script", Ref: `console.log("preset")`, Nonce: "preset", Has: true},
		{Tag: "style", Ref: "p { margin: 0; }", Nonce: testNonce, Has: true},
	}, elements(t, string(out)))
}

func TestDocument_InjectIsIdempotent(t *testing.T) {
	once, err := Document{}.Inject([]byte(page), testNonce, AllTargets)
	require.NoError(t, err)
	twice, err := Document{}.Inject(once, testNonce, AllTargets)
	require.NoError(t, err)

	assert.Equal(t, string(once), string(twice))
	assert.Equal(t, 1, strings.Count(string(twice), `<script nonce="`+testNonce+`">console.log("inline")`))
}

func TestDocument_InjectTargets(t *testing.T) {
	out, err := Document{}.Inject([]byte(page), testNonce, Targets{Scripts: true})
	require.NoError(t, err)

	for _, e := range elements(t, string(out)) {
		if e.Tag == "style" {
			assert.NotEqual(t, testNonce, e.Nonce, "styles must be left alone")
		}
	}
	assert.Contains(t, string(out), `<script nonce="`+testNonce+`">console.log("inline")`)
}

func TestDocument_InjectNothingToDo(t *testing.T) {
	in := []byte(page)

	out, err := Document{}.Inject(in, "", AllTargets)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = Document{}.Inject(in, testNonce, Targets{})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDocument_InjectMalformed(t *testing.T) {
	out, err := Document{}.Inject([]byte(`<div><p>unclosed <script>var a = 1;`), testNonce, AllTargets)
	require.NoError(t, err)
	assert.Contains(t, string(out), `<script nonce="`+testNonce+`">var a = 1;</script>`)
}

func TestFragment_Inject(t *testing.T) {
	in := `<script type="application/javascript" src="/a.js"></script>
<script type="application/javascript">alert(1)</script>
<link rel="stylesheet" type="text/css" href="/a.css">
<style type="text/css">a{}</style>`

	out, err := Fragment{}.Inject([]byte(in), testNonce, AllTargets)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `<script type="application/javascript" src="/a.js"></script>`)
	assert.Contains(t, s, `<script type="application/javascript" nonce="`+testNonce+`">alert(1)</script>`)
	assert.Contains(t, s, `<link rel="stylesheet" type="text/css" href="/a.css"/>`)
	assert.Contains(t, s, `<style type="text/css" nonce="`+testNonce+`">a{}</style>`)

	again, err := Fragment{}.Inject(out, testNonce, AllTargets)
	require.NoError(t, err)
	assert.Equal(t, s, string(again))
}

func TestFragment_InjectMalformed(t *testing.T) {
	out, err := Fragment{}.Inject([]byte(`</div><style>b{}`), testNonce, AllTargets)
	require.NoError(t, err)
	assert.Equal(t, `<style nonce="`+testNonce+`">b{}</style>`, string(out))
}

func TestStrategiesAreEquivalent(t *testing.T) {
	build := func(injector Injector) *Requirements {
		r := NewRequirements(injector)
		r.Javascript(Script{Src: "/app.js", Defer: true})
		r.CustomScript(`console.log("x")`)
		r.CSS(Stylesheet{Href: "/site.css", Media: "screen"})
		require.NoError(t, r.CustomCSS("body{color:red}"))
		return r
	}
	content := "<html><head><title>t</title></head><body><p>hi</p></body></html>"

	pre, post := Select(StrategyRequirements)
	require.IsType(t, Fragment{}, pre)
	require.IsType(t, Noop{}, post)
	viaRequirements, err := build(pre).IncludeInHTML(content, testNonce)
	require.NoError(t, err)
	viaRequirements1, err := post.Inject([]byte(viaRequirements), testNonce, AllTargets)
	require.NoError(t, err)

	pre, post = Select(StrategyMiddleware)
	require.IsType(t, Noop{}, pre)
	require.IsType(t, Document{}, post)
	untagged, err := build(pre).IncludeInHTML(content, testNonce)
	require.NoError(t, err)
	assert.NotContains(t, untagged, "nonce=")
	viaMiddleware, err := post.Inject([]byte(untagged), testNonce, AllTargets)
	require.NoError(t, err)

	assert.Equal(t, elements(t, string(viaRequirements1)), elements(t, string(viaMiddleware)))
}

func TestRequirements_IncludeInHTML(t *testing.T) {
	r := NewRequirements(Fragment{})
	r.Javascript(Script{Src: "/app.js?a=1&b=2", Async: true, Integrity: "sha384-abc", CrossOrigin: "anonymous"})
	r.CustomScript("var x = 1;")
	r.CSS(Stylesheet{Href: "/site.css"})
	r.HeadTag(`<meta name="x" content="y">`)

	out, err := r.IncludeInHTML("<html><head><title>t</title></head><body></body></html>", testNonce)
	require.NoError(t, err)

	head := out[:strings.Index(out, "</head>")]
	assert.Contains(t, head, `<link rel="stylesheet" type="text/css" href="/site.css"/>`)
	assert.Contains(t, head, `<meta name="x" content="y">`)
	assert.Contains(t, head, `src="/app.js?a=1&amp;b=2"`)
	assert.Contains(t, head, `async="async"`)
	assert.Contains(t, head, `integrity="sha384-abc"`)
	assert.Contains(t, head, "//<![CDATA[\nvar x = 1;\n//]]>")

	for _, e := range elements(t, out) {
		switch {
		case e.Tag == "script" && e.Ref == "/app.js?a=1&b=2", e.Tag == "link":
			assert.False(t, e.Has, "external %s must not carry a nonce", e.Tag)
		case e.Tag == "script":
			assert.Equal(t, testNonce, e.Nonce)
		}
	}
}

func TestRequirements_Placement(t *testing.T) {
	content := "<html><head></head><body><p>a</p><script>first()</script><p>b</p></body></html>"

	r := NewRequirements(Noop{})
	r.Javascript(Script{Src: "/app.js"})
	r.ForceJSToBottom = true
	out, err := r.IncludeInHTML(content, testNonce)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, `<script type="application/javascript" src="/app.js"></script>`+"\n</body></html>"))

	r.ForceJSToBottom = false
	r.WriteJSToBody = true
	out, err = r.IncludeInHTML(content, testNonce)
	require.NoError(t, err)
	assert.Contains(t, out, `<p>a</p><script type="application/javascript" src="/app.js"></script>`+"\n<script>first()</script>")
}

func TestRequirements_Unchanged(t *testing.T) {
	r := NewRequirements(Fragment{})
	out, err := r.IncludeInHTML("<html><head></head></html>", testNonce)
	require.NoError(t, err)
	assert.Equal(t, "<html><head></head></html>", out)

	r.CustomScript("x()")
	out, err = r.IncludeInHTML("<p>no head here</p>", testNonce)
	require.NoError(t, err)
	assert.Equal(t, "<p>no head here</p>", out)
}

func TestRequirements_CustomCSS(t *testing.T) {
	r := NewRequirements(nil)

	require.NoError(t, r.CustomCSS("body{color:red}"))
	require.Len(t, r.customCSS, 1)
	assert.Contains(t, r.customCSS[0], "body")
	assert.Contains(t, r.customCSS[0], "color: red")

	err := r.CustomCSS("a{}</style><script>alert(1)</script>")
	require.Error(t, err)
	assert.Len(t, r.customCSS, 1)
}

func TestInsertMeta(t *testing.T) {
	tag := `<meta http-equiv="Content-Security-Policy" content="img-src &#39;self&#39;;">`

	out, err := InsertMeta([]byte("<html><head><title>t</title></head><body></body></html>"), tag)
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(out)))
	require.NoError(t, err)
	first := doc.Find("head").Children().First()
	assert.Equal(t, "meta", goquery.NodeName(first))
	assert.Equal(t, "img-src 'self';", first.AttrOr("content", ""))

	again, err := InsertMeta(out, tag)
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again))
}

func TestTargetsFor(t *testing.T) {
	assert.Equal(t, Targets{Scripts: true}, TargetsFor("script-src 'nonce-a';style-src 'self';"))
	assert.Equal(t, AllTargets, TargetsFor("script-src 'nonce-a';style-src 'nonce-a';"))
	assert.False(t, TargetsFor("img-src 'nonce-a';").Any())
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Middleware")
	require.NoError(t, err)
	assert.Equal(t, StrategyMiddleware, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyRequirements, s)

	_, err = ParseStrategy("template")
	require.Error(t, err)
}
