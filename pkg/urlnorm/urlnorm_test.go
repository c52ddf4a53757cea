package urlnorm_test

import (
	"net/url"
	"testing"

	"github.com/metabench/crawlfleet/pkg/urlnorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

func TestCanonicalize_LowercasesSchemeAndHost(t *testing.T) {
	u := mustParse(t, "HTTP://Example.COM/Path")
	got := urlnorm.Canonicalize(u, urlnorm.AllowlistParam{})
	assert.Equal(t, "http://example.com/Path", got.String())
}

func TestCanonicalize_StripsDefaultPort(t *testing.T) {
	u := mustParse(t, "http://example.com:80/path")
	got := urlnorm.Canonicalize(u, urlnorm.AllowlistParam{})
	assert.Equal(t, "http://example.com/path", got.String())

	u2 := mustParse(t, "https://example.com:443/path")
	got2 := urlnorm.Canonicalize(u2, urlnorm.AllowlistParam{})
	assert.Equal(t, "https://example.com/path", got2.String())
}

func TestCanonicalize_KeepsNonDefaultPort(t *testing.T) {
	u := mustParse(t, "http://example.com:8080/path")
	got := urlnorm.Canonicalize(u, urlnorm.AllowlistParam{})
	assert.Equal(t, "http://example.com:8080/path", got.String())
}

func TestCanonicalize_StripsTrailingSlashExceptRoot(t *testing.T) {
	u := mustParse(t, "http://example.com/path/")
	got := urlnorm.Canonicalize(u, urlnorm.AllowlistParam{})
	assert.Equal(t, "http://example.com/path", got.String())

	root := mustParse(t, "http://example.com/")
	gotRoot := urlnorm.Canonicalize(root, urlnorm.AllowlistParam{})
	assert.Equal(t, "http://example.com/", gotRoot.String())
}

func TestCanonicalize_RemovesFragment(t *testing.T) {
	u := mustParse(t, "http://example.com/path#section")
	got := urlnorm.Canonicalize(u, urlnorm.AllowlistParam{})
	assert.Equal(t, "http://example.com/path", got.String())
}

func TestCanonicalize_DropsQueryParamsByDefault(t *testing.T) {
	u := mustParse(t, "http://example.com/path?utm_source=x&page=2")
	got := urlnorm.Canonicalize(u, urlnorm.AllowlistParam{})
	assert.Equal(t, "http://example.com/path", got.String())
}

func TestCanonicalize_KeepsAllowlistedParams(t *testing.T) {
	u := mustParse(t, "http://example.com/path?utm_source=x&page=2")
	got := urlnorm.Canonicalize(u, urlnorm.NewAllowlistParam("page"))
	assert.Equal(t, "http://example.com/path?page=2", got.String())
}

func TestCanonicalize_SortsKeptParamsForStableOutput(t *testing.T) {
	u := mustParse(t, "http://example.com/path?b=2&a=1")
	got := urlnorm.Canonicalize(u, urlnorm.NewAllowlistParam("a", "b"))
	assert.Equal(t, "http://example.com/path?a=1&b=2", got.String())
}

func TestCanonicalize_Idempotent(t *testing.T) {
	allowlist := urlnorm.NewAllowlistParam("page")
	u := mustParse(t, "HTTP://Example.COM:80/Path/?utm_source=x&page=2#frag")

	once := urlnorm.Canonicalize(u, allowlist)
	twice := urlnorm.Canonicalize(once, allowlist)

	assert.Equal(t, once.String(), twice.String())
}

func TestNormalizeString_InvalidURLReturnsFalse(t *testing.T) {
	_, ok := urlnorm.NormalizeString("http://[::1", urlnorm.AllowlistParam{})
	assert.False(t, ok)
}

func TestNormalizeString_ValidURL(t *testing.T) {
	got, ok := urlnorm.NormalizeString("HTTP://Example.com/Path/", urlnorm.AllowlistParam{})
	require.True(t, ok)
	assert.Equal(t, "http://example.com/Path", got)
}
