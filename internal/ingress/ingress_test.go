package ingress

import "testing"

func TestTopicFilterBlocklist(t *testing.T) {
	f := NewTopicFilter(nil, nil, []string{"/secret"})
	if f.Allows("/secret") {
		t.Fatal("expected /secret to be blocked")
	}
	if !f.Allows("/demo") {
		t.Fatal("expected /demo to be allowed when no allowlist is set")
	}
}

func TestTopicFilterAllowlist(t *testing.T) {
	f := NewTopicFilter([]string{"/demo"}, nil, nil)
	if !f.Allows("/demo") {
		t.Fatal("expected /demo to be allowed")
	}
	if f.Allows("/other") {
		t.Fatal("expected /other to be rejected: not in allowlist")
	}
}

func TestTopicFilterBlocklistWinsOverAllowlist(t *testing.T) {
	f := NewTopicFilter([]string{"/demo"}, nil, []string{"/demo"})
	if f.Allows("/demo") {
		t.Fatal("expected blocklist to take precedence")
	}
}
