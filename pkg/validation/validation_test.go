package validation

import "testing"

func TestValidateGroup(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"default", true},
		{"mr/6", true},
		{"", false},
		{"MR-6", false},
		{"-foo", false},
		{stringOfLen(101), false},
	}
	for _, c := range cases {
		err := ValidateGroup(c.name)
		if (err == nil) != c.ok {
			t.Errorf("ValidateGroup(%q) err=%v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestValidatePort(t *testing.T) {
	if ValidatePort(0) == nil {
		t.Error("port 0 should be rejected")
	}
	if err := ValidatePort(65535); err != nil {
		t.Errorf("port 65535 should be accepted: %v", err)
	}
	if ValidatePort(65536) == nil {
		t.Error("port 65536 should be rejected")
	}
}

func TestParseExpiry(t *testing.T) {
	good := map[string]bool{"7d": true, "2h": true, "30m": true}
	for s := range good {
		if _, err := ParseExpiry(s); err != nil {
			t.Errorf("ParseExpiry(%q) should succeed: %v", s, err)
		}
	}
	bad := []string{"0d", "7x", "", "d", "-1h"}
	for _, s := range bad {
		if _, err := ParseExpiry(s); err == nil {
			t.Errorf("ParseExpiry(%q) should fail", s)
		}
	}
}

func TestNormalizeImage(t *testing.T) {
	cases := map[string]string{
		"nginx":          "docker.io/library/nginx",
		"myorg/app:v1":   "docker.io/myorg/app:v1",
		"quay.io/foo:1":  "quay.io/foo:1",
		"localhost:5000/foo": "localhost:5000/foo",
	}
	for in, want := range cases {
		if got := NormalizeImage(in); got != want {
			t.Errorf("NormalizeImage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatchWildcardClaim(t *testing.T) {
	cases := []struct {
		pattern, claim string
		want           bool
	}{
		{"app*", "app-mr/6", true},
		{"app*", "app", true},
		{"app*", "webapp", false},
		{"*-prod", "api-prod", true},
		{"*-prod", "prod", false},
		{"*-prod", "production", false},
		{"app-*-prod", "app-staging-prod", true},
		{"app-*-prod", "app-prod", false},
	}
	for _, c := range cases {
		if got := MatchWildcardClaim(c.pattern, c.claim); got != c.want {
			t.Errorf("MatchWildcardClaim(%q, %q) = %v, want %v", c.pattern, c.claim, got, c.want)
		}
	}
}
