package transport

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/catsync/pkg/errors"
)

func newRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &http.Request{URL: u, Header: make(http.Header)}
}

func TestNoAuth(t *testing.T) {
	req := newRequest(t, "https://catalog.example.com/catalogs")
	(&NoAuth{}).Apply(req, "secret")
	assert.Empty(t, req.Header)
	assert.Empty(t, req.URL.RawQuery)
}

func TestBearerAuth(t *testing.T) {
	req := newRequest(t, "https://catalog.example.com/catalogs")
	(&BearerAuth{}).Apply(req, "secret")
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
}

func TestHeaderAuth(t *testing.T) {
	req := newRequest(t, "https://catalog.example.com/catalogs")
	(&HeaderAuth{Header: "x-api-key"}).Apply(req, "secret")
	assert.Equal(t, "secret", req.Header.Get("x-api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestQueryAuth(t *testing.T) {
	auth := &QueryAuth{Param: "key"}

	req := newRequest(t, "https://catalog.example.com/items?page_size=10")
	auth.Apply(req, "secret")
	query := req.URL.Query()
	assert.Equal(t, "secret", query.Get("key"))
	assert.Equal(t, "10", query.Get("page_size"))

	// A request without a URL is left alone.
	bare := &http.Request{Header: make(http.Header)}
	assert.NotPanics(t, func() { auth.Apply(bare, "secret") })
}

func TestNewAuthenticator(t *testing.T) {
	tests := []struct {
		scheme string
		name   string
		want   Authenticator
	}{
		{"", "", &BearerAuth{}},
		{"Bearer", "", &BearerAuth{}},
		{"none", "", &NoAuth{}},
		{"header", "", &HeaderAuth{Header: "x-api-key"}},
		{"header", "X-Catalog-Key", &HeaderAuth{Header: "X-Catalog-Key"}},
		{"query", "", &QueryAuth{Param: "key"}},
		{" query ", "token", &QueryAuth{Param: "token"}},
	}
	for _, tt := range tests {
		t.Run(tt.scheme+"/"+tt.name, func(t *testing.T) {
			got, err := NewAuthenticator(tt.scheme, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NewAuthenticator("digest", "")
	assert.True(t, errors.IsValidationError(err))
}
