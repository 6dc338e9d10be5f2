package netutil

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw  string
		want URLInfo
	}{
		{"https://Example.com/a?b", URLInfo{Domain: "example.com", Secure: true, Origin: "https://example.com"}},
		{"http://example.com:8080/", URLInfo{Domain: "example.com", Origin: "http://example.com:8080"}},
		{"https://example.com:443/", URLInfo{Domain: "example.com", Secure: true, Origin: "https://example.com"}},
		{"wss://push.example.net/s", URLInfo{Domain: "push.example.net", Secure: true, WebSocket: true, Origin: "wss://push.example.net"}},
		{"ws://[::1]:9000/", URLInfo{Domain: "::1", WebSocket: true, Origin: "ws://[::1]:9000"}},
		{"file:///tmp/x.html", URLInfo{Domain: DomainFile, Origin: "null"}},
		{"chrome://settings/", URLInfo{Domain: DomainChrome, Origin: "chrome://settings"}},
	}
	for _, tt := range tests {
		got, err := ParseURL(tt.raw)
		if err != nil {
			t.Fatalf("ParseURL(%q) error = %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("ParseURL(%q) = %+v; want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestParseURLRejectsRelative(t *testing.T) {
	if _, err := ParseURL("/just/a/path"); err == nil {
		t.Fatal("ParseURL() = nil error; want error")
	}
}
