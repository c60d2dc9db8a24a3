// Package nonce provides the per-request CSP nonce. A Provider lives for one
// request and travels in its context; header composition and HTML injection
// both read the same value from it.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
)

// MinLength is the minimum nonce size in random bytes (128 bits).
const MinLength = 16

// Provider lazily creates a single hex encoded random token.
type Provider struct {
	length int
	rand   io.Reader
	value  string
}

// NewProvider returns a provider for nonces of length random bytes. Lengths
// below MinLength are raised to MinLength.
func NewProvider(length int) *Provider {
	if length < MinLength {
		length = MinLength
	}
	return &Provider{length: length, rand: rand.Reader}
}

// WithReader replaces the entropy source. Intended for tests.
func (p *Provider) WithReader(r io.Reader) *Provider {
	p.rand = r
	return p
}

// Length is the number of random bytes in a nonce.
func (p *Provider) Length() int {
	return p.length
}

// Get returns the request nonce, creating it on first use. Failure to read
// random bytes is returned as an error; no fallback value is ever produced.
func (p *Provider) Get() (string, error) {
	if p.value != "" {
		return p.value, nil
	}
	b := make([]byte, p.length)
	if _, err := io.ReadFull(p.rand, b); err != nil {
		return "", errors.Wrap(err, "nonce: reading random bytes")
	}
	p.value = hex.EncodeToString(b)
	return p.value, nil
}

// Clear forgets the current nonce.
func (p *Provider) Clear() {
	p.value = ""
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying p.
func NewContext(ctx context.Context, p *Provider) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the provider stored in ctx.
func FromContext(ctx context.Context) (*Provider, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Provider)
	return p, ok && p != nil
}

// Get returns the nonce of the provider stored in ctx. It returns "" and no
// error when ctx carries no provider.
func Get(ctx context.Context) (string, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return "", nil
	}
	return p.Get()
}
