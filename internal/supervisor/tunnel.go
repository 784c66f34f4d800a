package supervisor

import (
	"net/url"
	"strings"
)

// ExtractTunnelURL pulls the public URL out of one line of tunnel client
// output. The structured "your url is:" line is authoritative; as a fallback
// any https token whose host belongs to the tunnel service is accepted, which
// survives cosmetic output changes between client versions.
func ExtractTunnelURL(line, tunnelHost string) (string, bool) {
	lower := strings.ToLower(line)
	if idx := strings.Index(lower, "your url is:"); idx >= 0 {
		candidate := strings.TrimSpace(line[idx+len("your url is:"):])
		if u, err := url.Parse(candidate); err == nil && u.Scheme != "" && u.Host != "" {
			return candidate, true
		}
	}

	suffix := hostSuffix(tunnelHost)
	if suffix == "" {
		return "", false
	}
	for _, field := range strings.Fields(line) {
		if !strings.HasPrefix(field, "https://") {
			continue
		}
		u, err := url.Parse(strings.Trim(field, ".,;\"'()[]"))
		if err != nil || u.Host == "" {
			continue
		}
		if u.Host == suffix || strings.HasSuffix(u.Host, "."+suffix) {
			return u.String(), true
		}
	}
	return "", false
}

// hostSuffix reduces the configured tunnel host to its bare hostname.
func hostSuffix(tunnelHost string) string {
	h := tunnelHost
	if strings.Contains(h, "://") {
		if u, err := url.Parse(h); err == nil {
			h = u.Host
		}
	}
	if i := strings.IndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	return strings.TrimPrefix(h, "www.")
}
