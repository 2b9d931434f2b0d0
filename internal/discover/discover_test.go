package discover

import "testing"

func TestPagerURL(t *testing.T) {
	p := Pager{Name: "clawd-pager-7f3a", Host: "192.168.1.44", Port: 8090}
	if got := p.URL(); got != "ws://192.168.1.44:8090/ws" {
		t.Fatalf("URL() = %q", got)
	}
}

func TestPagerURL_IPv6(t *testing.T) {
	p := Pager{Host: "fe80::1", Port: 8090}
	// Bare IPv6 literals are what zeroconf hands back; the firmware
	// only speaks IPv4 today so this just documents what happens.
	if got := p.URL(); got != "ws://fe80::1:8090/ws" {
		t.Fatalf("URL() = %q", got)
	}
}
