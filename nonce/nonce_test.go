package nonce

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestNonceStaysTheSame(t *testing.T) {
	p := NewProvider(MinLength)

	n1, err := p.Get()
	require.NoError(t, err)
	require.NotEmpty(t, n1)

	n2, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
}

func TestNonceDiffersAcrossRequests(t *testing.T) {
	n1, err := NewProvider(MinLength).Get()
	require.NoError(t, err)
	n2, err := NewProvider(MinLength).Get()
	require.NoError(t, err)

	assert.NotEqual(t, n1, n2)
}

func TestNonceLength(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		wantBytes  int
	}{
		{"short is clamped", MinLength / 2, MinLength},
		{"zero is clamped", 0, MinLength},
		{"exact", MinLength, MinLength},
		{"long", MinLength * 2, MinLength * 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.configured)
			assert.Equal(t, tt.wantBytes, p.Length())

			n, err := p.Get()
			require.NoError(t, err)
			assert.Len(t, n, tt.wantBytes*2)

			raw, err := hex.DecodeString(n)
			require.NoError(t, err)
			assert.Len(t, raw, tt.wantBytes)
		})
	}
}

func TestNonceEntropyFailureIsAnError(t *testing.T) {
	p := NewProvider(MinLength).WithReader(failingReader{})

	n, err := p.Get()
	require.Error(t, err)
	assert.Empty(t, n)
	assert.Contains(t, err.Error(), "entropy unavailable")
}

func TestNonceShortReadIsAnError(t *testing.T) {
	p := NewProvider(MinLength).WithReader(bytes.NewReader([]byte{1, 2, 3}))

	_, err := p.Get()
	require.Error(t, err)
}

func TestNonceClear(t *testing.T) {
	p := NewProvider(MinLength).WithReader(bytes.NewReader(bytes.Repeat([]byte{0xab}, 2*MinLength)))

	n1, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, "ab", n1[:2])

	p.Clear()
	p.WithReader(bytes.NewReader(bytes.Repeat([]byte{0xcd}, MinLength)))
	n2, err := p.Get()
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
}

func TestContext(t *testing.T) {
	ctx := context.Background()

	n, err := Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, n)

	p := NewProvider(MinLength)
	ctx = NewContext(ctx, p)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, p, got)

	n1, err := Get(ctx)
	require.NoError(t, err)
	n2, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
}
