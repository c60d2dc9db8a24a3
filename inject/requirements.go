package inject

import (
	"html"
	"regexp"
	"strings"

	"github.com/aymerick/douceur/parser"
	"github.com/pkg/errors"
)

// Script is an external script file.
type Script struct {
	Src         string
	Type        string
	Async       bool
	Defer       bool
	Integrity   string
	CrossOrigin string
}

// Stylesheet is an external stylesheet.
type Stylesheet struct {
	Href        string
	Media       string
	Integrity   string
	CrossOrigin string
}

// Requirements collects the scripts and styles a page needs and writes them
// into the page's <head> (or body), tagging inline ones with the nonce.
type Requirements struct {
	injector Injector

	scripts       []Script
	customScripts []string
	stylesheets   []Stylesheet
	customCSS     []string
	headTags      []string

	// ForceJSToBottom places scripts right before </body>.
	ForceJSToBottom bool
	// WriteJSToBody places scripts before the first script in <body>, or
	// before </body> when there is none.
	WriteJSToBody bool
}

// NewRequirements returns an empty set bound to injector. With the
// middleware strategy injector is Noop and tags stay untouched here.
func NewRequirements(injector Injector) *Requirements {
	if injector == nil {
		injector = Noop{}
	}
	return &Requirements{injector: injector}
}

// Javascript adds an external script.
func (r *Requirements) Javascript(s Script) {
	r.scripts = append(r.scripts, s)
}

// CustomScript adds inline JavaScript, written after the external files it
// might rely on.
func (r *Requirements) CustomScript(js string) {
	r.customScripts = append(r.customScripts, js)
}

// CSS adds an external stylesheet.
func (r *Requirements) CSS(s Stylesheet) {
	r.stylesheets = append(r.stylesheets, s)
}

// CustomCSS adds an inline stylesheet. The CSS is parsed and re-serialized;
// input that cannot be parsed or that would close the <style> element is
// rejected, since the resulting element is trusted through the nonce.
func (r *Requirements) CustomCSS(css string) error {
	if strings.Contains(strings.ToLower(css), "</style") {
		return errors.New("inject: custom CSS must not contain </style")
	}
	sheet, err := parser.Parse(css)
	if err != nil {
		return errors.Wrap(err, "inject: parsing custom CSS")
	}
	r.customCSS = append(r.customCSS, sheet.String())
	return nil
}

// HeadTag adds raw markup to <head>. It is written as given.
func (r *Requirements) HeadTag(tag string) {
	r.headTags = append(r.headTags, tag)
}

func (r *Requirements) empty() bool {
	return len(r.scripts) == 0 && len(r.customScripts) == 0 && len(r.stylesheets) == 0 &&
		len(r.customCSS) == 0 && len(r.headTags) == 0
}

var (
	headClose = regexp.MustCompile(`(?i)</head\b`)
	bodyOpen  = regexp.MustCompile(`(?i)<body\b`)
	bodyClose = regexp.MustCompile(`(?i)</body\b`)
	scriptTag = regexp.MustCompile(`(?i)<script\b`)
)

// IncludeInHTML writes the collected requirements into content. Content
// without a </head> tag, or an empty set, is returned unchanged.
func (r *Requirements) IncludeInHTML(content, nonce string) (string, error) {
	if !headClose.MatchString(content) || r.empty() {
		return content, nil
	}

	var js, css strings.Builder
	for _, s := range r.scripts {
		typ := s.Type
		if typ == "" {
			typ = "application/javascript"
		}
		attrs := [][2]string{{"type", typ}, {"src", s.Src}}
		if s.Async {
			attrs = append(attrs, [2]string{"async", "async"})
		}
		if s.Defer {
			attrs = append(attrs, [2]string{"defer", "defer"})
		}
		attrs = appendIf(attrs, "integrity", s.Integrity)
		attrs = appendIf(attrs, "crossorigin", s.CrossOrigin)
		js.WriteString(createTag("script", attrs, "", false))
		js.WriteString("\n")
	}
	for _, script := range r.customScripts {
		js.WriteString(createTag("script", [][2]string{{"type", "application/javascript"}}, "//<![CDATA[\n"+script+"\n//]]>", false))
		js.WriteString("\n")
	}
	for _, s := range r.stylesheets {
		attrs := [][2]string{{"rel", "stylesheet"}, {"type", "text/css"}, {"href", s.Href}}
		attrs = appendIf(attrs, "media", s.Media)
		attrs = appendIf(attrs, "integrity", s.Integrity)
		attrs = appendIf(attrs, "crossorigin", s.CrossOrigin)
		css.WriteString(createTag("link", attrs, "", true))
		css.WriteString("\n")
	}
	for _, c := range r.customCSS {
		css.WriteString(createTag("style", [][2]string{{"type", "text/css"}}, "\n"+c+"\n", false))
		css.WriteString("\n")
	}

	jsMarkup, err := r.injector.Inject([]byte(js.String()), nonce, AllTargets)
	if err != nil {
		return content, err
	}
	cssMarkup, err := r.injector.Inject([]byte(css.String()), nonce, AllTargets)
	if err != nil {
		return content, err
	}

	head := string(cssMarkup)
	for _, tag := range r.headTags {
		head += tag + "\n"
	}

	content = insertBefore(content, headClose, head, false)
	switch {
	case r.ForceJSToBottom:
		content = insertBefore(content, bodyClose, string(jsMarkup), true)
	case r.WriteJSToBody:
		content = insertIntoBody(content, string(jsMarkup))
	default:
		content = insertBefore(content, headClose, string(jsMarkup), false)
	}
	return content, nil
}

func appendIf(attrs [][2]string, key, val string) [][2]string {
	if val == "" {
		return attrs
	}
	return append(attrs, [2]string{key, val})
}

func createTag(name string, attrs [][2]string, content string, void bool) string {
	var b strings.Builder
	b.WriteString("<" + name)
	for _, a := range attrs {
		b.WriteString(" " + a[0] + `="` + html.EscapeString(a[1]) + `"`)
	}
	b.WriteString(">")
	if void {
		return b.String()
	}
	b.WriteString(content)
	b.WriteString("</" + name + ">")
	return b.String()
}

// insertBefore inserts markup before the first (or last) match of re. When
// re does not match, markup is appended.
func insertBefore(content string, re *regexp.Regexp, markup string, last bool) string {
	if markup == "" {
		return content
	}
	locs := re.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return content + markup
	}
	loc := locs[0]
	if last {
		loc = locs[len(locs)-1]
	}
	return content[:loc[0]] + markup + content[loc[0]:]
}

func insertIntoBody(content, markup string) string {
	if markup == "" {
		return content
	}
	open := bodyOpen.FindStringIndex(content)
	if open == nil {
		return insertBefore(content, bodyClose, markup, true)
	}
	rest := content[open[1]:]
	if loc := scriptTag.FindStringIndex(rest); loc != nil {
		i := open[1] + loc[0]
		return content[:i] + markup + content[i:]
	}
	return insertBefore(content, bodyClose, markup, true)
}
