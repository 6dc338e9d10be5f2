package netutil

import "testing"

func TestAddrVersion(t *testing.T) {
	nat64 := MustNAT64Prefix(DefaultNAT64Prefix)
	tests := []struct {
		addr string
		want string
	}{
		{"1.2.3.4", "4"},
		{"::ffff:192.0.2.1", "4"},
		{"2001:db8::1", "6"},
		{"[2001:db8::1]", "6"},
		{"fe80::1%eth0", "6"},
		{"64:ff9b::102:304", "4"},
		{"64:ff9b:1::102:304", "6"},
		{"(no address)", "?"},
		{"(lost)", "?"},
		{"", "?"},
		{"beef", "?"},
	}
	for _, tt := range tests {
		if got := AddrVersion(tt.addr, nat64); got != tt.want {
			t.Errorf("AddrVersion(%q) = %q; want %q", tt.addr, got, tt.want)
		}
	}
}

func TestAddrVersionCustomPrefix(t *testing.T) {
	p, err := ParseNAT64Prefix("2001:db8:64::")
	if err != nil {
		t.Fatalf("ParseNAT64Prefix() error = %v", err)
	}
	if got := AddrVersion("2001:db8:64::c000:201", p); got != "4" {
		t.Fatalf("AddrVersion() = %q; want %q", got, "4")
	}
	if got := AddrVersion("64:ff9b::102:304", p); got != "6" {
		t.Fatalf("AddrVersion() = %q; want %q", got, "6")
	}
}

func TestParseNAT64PrefixRejectsIPv4(t *testing.T) {
	if _, err := ParseNAT64Prefix("10.0.0.0/8"); err == nil {
		t.Fatal("ParseNAT64Prefix() = nil error; want error")
	}
}
