package netutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Pseudo-domains for schemes that have no host.
const (
	DomainFile   = "file://"
	DomainChrome = "chrome://"
)

// URLInfo is the classification of a request URL.
type URLInfo struct {
	Domain    string
	Secure    bool
	WebSocket bool
	Origin    string
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// ParseURL classifies a request URL into domain, transport security,
// websocket-ness and origin.
func ParseURL(raw string) (URLInfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URLInfo{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" {
		return URLInfo{}, fmt.Errorf("parse url %q: missing scheme", truncate(raw))
	}
	scheme := strings.ToLower(u.Scheme)

	info := URLInfo{Origin: origin(scheme, u)}
	switch scheme {
	case "file":
		info.Domain = DomainFile
		return info, nil
	case "chrome":
		info.Domain = DomainChrome
		return info, nil
	}

	info.Domain = strings.ToLower(u.Hostname())
	switch scheme {
	case "https":
		info.Secure = true
	case "wss":
		info.Secure = true
		info.WebSocket = true
	case "ws":
		info.WebSocket = true
	}
	return info, nil
}

func origin(scheme string, u *url.URL) string {
	if scheme == "file" || u.Host == "" {
		return "null"
	}
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && defaultPorts[scheme] != port {
		host += ":" + port
	}
	return scheme + "://" + host
}

func truncate(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
