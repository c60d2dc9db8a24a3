// Package audit checks rendered pages against the policy they are served
// with, so missing or mismatched nonces show up before browsers block them.
package audit

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"net/url"
)

// SourceContext describes one element found in a page.
type SourceContext struct {
	Page   url.URL
	URL    url.URL
	Inline bool
	Nonce  string
	Body   []byte
}

// Finding is one element the policy would block.
type Finding struct {
	Document      string
	Element       string
	DirectiveName string
	Directive     string
	Reason        string
	Context       SourceContext
}

// HashSource is a 'sha…-' source expression.
type HashSource struct {
	Algorithm func() hash.Hash
	Value     string
}

var hashAlgorithms = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}
