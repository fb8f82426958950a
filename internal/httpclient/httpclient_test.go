package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

func proxyFor(t *testing.T, client *http.Client, target string) *string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	if transport.Proxy == nil {
		return nil
	}
	u, err := transport.Proxy(req)
	require.NoError(t, err)
	if u == nil {
		return nil
	}
	s := u.String()
	return &s
}

func TestNewDisabledProxy(t *testing.T) {
	client, err := New(config.ProxyConfig{})
	require.NoError(t, err)
	assert.Nil(t, proxyFor(t, client, "http://example.com/file.pdf"))
}

func TestNewScopedProxy(t *testing.T) {
	client, err := New(config.ProxyConfig{
		Enabled: true,
		URL:     "http://proxy.corp:3128",
		Exclude: []string{"minio.internal", ".cluster.local"},
	})
	require.NoError(t, err)

	got := proxyFor(t, client, "http://example.com/file.pdf")
	require.NotNil(t, got)
	assert.Equal(t, "http://proxy.corp:3128", *got)

	assert.Nil(t, proxyFor(t, client, "http://minio.internal/bucket/key"))
	assert.Nil(t, proxyFor(t, client, "http://svc.cluster.local/x"))
}

func TestNewBadProxyURL(t *testing.T) {
	_, err := New(config.ProxyConfig{Enabled: true, URL: "://bad"})
	assert.Error(t, err)
}
