package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTunnelURLStructuredLine(t *testing.T) {
	url, ok := ExtractTunnelURL("your url is: https://tall-lion-42.loca.lt", "https://localtunnel.me")
	assert.True(t, ok)
	assert.Equal(t, "https://tall-lion-42.loca.lt", url)
}

func TestExtractTunnelURLStructuredLineIsCaseInsensitive(t *testing.T) {
	url, ok := ExtractTunnelURL("Your URL is: https://abc.loca.lt", "https://localtunnel.me")
	assert.True(t, ok)
	assert.Equal(t, "https://abc.loca.lt", url)
}

func TestExtractTunnelURLHostSuffixFallback(t *testing.T) {
	url, ok := ExtractTunnelURL("tunnel established at https://abc.localtunnel.me ok", "https://localtunnel.me")
	assert.True(t, ok)
	assert.Equal(t, "https://abc.localtunnel.me", url)
}

func TestExtractTunnelURLIgnoresForeignHosts(t *testing.T) {
	_, ok := ExtractTunnelURL("see https://example.com/docs for help", "https://localtunnel.me")
	assert.False(t, ok)
}

func TestExtractTunnelURLIgnoresChatter(t *testing.T) {
	for _, line := range []string{
		"",
		"waiting for tunnel...",
		"npm WARN deprecated package",
		"listening on port 8888",
	} {
		_, ok := ExtractTunnelURL(line, "https://localtunnel.me")
		assert.False(t, ok, "line %q", line)
	}
}

func TestExtractTunnelURLStripsTrailingPunctuation(t *testing.T) {
	url, ok := ExtractTunnelURL("url: https://abc.localtunnel.me.", "https://localtunnel.me")
	assert.True(t, ok)
	assert.Equal(t, "https://abc.localtunnel.me", url)
}

func TestHostSuffix(t *testing.T) {
	assert.Equal(t, "localtunnel.me", hostSuffix("https://localtunnel.me"))
	assert.Equal(t, "localtunnel.me", hostSuffix("localtunnel.me:443"))
	assert.Equal(t, "loca.lt", hostSuffix("https://www.loca.lt"))
}
