package middleware

import (
	"bytes"
	"mime"
	"net/http"
)

// bufferedWriter holds the response body so it can be rewritten before it
// is sent. Headers go straight to the wrapped writer's header map.
type bufferedWriter struct {
	w      http.ResponseWriter
	status int
	body   bytes.Buffer
	wrote  bool
}

func newBufferedWriter(w http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{w: w, status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header {
	return b.w.Header()
}

func (b *bufferedWriter) WriteHeader(status int) {
	if b.wrote {
		return
	}
	b.wrote = true
	b.status = status
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wrote = true
	return b.body.Write(p)
}

// isHTML reports whether the response is an HTML document, sniffing body
// when no Content-Type was set.
func isHTML(h http.Header, body []byte) bool {
	ct := h.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "text/html"
}
