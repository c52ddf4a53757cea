package robotscache

import (
	"net/url"
	"testing"
	"time"
)

func TestPatternMatches(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/", "/anything", true},
		{"/private/", "/private/secret", true},
		{"/private/", "/public/", false},
		{"/*.pdf$", "/doc.pdf", true},
		{"/*.pdf$", "/doc.pdf.html", false},
		{"/*.pdf$", "/archive/doc.pdf", true},
		{"/$", "/", true},
		{"/$", "/page", false},
		{"", "/anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.path, func(t *testing.T) {
			got := patternMatches(tt.pattern, tt.path)
			if got != tt.want {
				t.Errorf("patternMatches(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestRuleSet_Decide_EmptyRuleSet(t *testing.T) {
	rs := ruleSet{host: "example.com", hasGroups: false}
	u, _ := url.Parse("https://example.com/page")
	decision := rs.Decide(*u)
	if !decision.Allowed || decision.Reason != EmptyRuleSet {
		t.Errorf("expected allow+EmptyRuleSet, got allowed=%v reason=%s", decision.Allowed, decision.Reason)
	}
}

func TestRuleSet_Decide_UserAgentNotMatched(t *testing.T) {
	rs := ruleSet{host: "example.com", hasGroups: true, matchedGroup: false}
	u, _ := url.Parse("https://example.com/page")
	decision := rs.Decide(*u)
	if !decision.Allowed || decision.Reason != UserAgentNotMatched {
		t.Errorf("expected allow+UserAgentNotMatched, got allowed=%v reason=%s", decision.Allowed, decision.Reason)
	}
}

func TestRuleSet_Decide_LongestMatchWins(t *testing.T) {
	rs := ruleSet{
		host:         "example.com",
		hasGroups:    true,
		matchedGroup: true,
		disallowRules: []pathRule{{prefix: "/docs/"}},
		allowRules:    []pathRule{{prefix: "/docs/public/"}},
	}

	allowed, _ := url.Parse("https://example.com/docs/public/page")
	decision := rs.Decide(*allowed)
	if !decision.Allowed || decision.Reason != AllowedByRobots {
		t.Errorf("expected the more specific allow rule to win, got allowed=%v reason=%s", decision.Allowed, decision.Reason)
	}

	disallowed, _ := url.Parse("https://example.com/docs/private/page")
	decision = rs.Decide(*disallowed)
	if decision.Allowed {
		t.Error("expected /docs/private/ to be disallowed")
	}
}

func TestRuleSet_Decide_TieFavorsAllow(t *testing.T) {
	rs := ruleSet{
		host:         "example.com",
		hasGroups:    true,
		matchedGroup: true,
		disallowRules: []pathRule{{prefix: "/x"}},
		allowRules:    []pathRule{{prefix: "/x"}},
	}
	u, _ := url.Parse("https://example.com/x")
	decision := rs.Decide(*u)
	if !decision.Allowed {
		t.Error("expected a tie between equally-specific allow and disallow to favor Allow")
	}
}

func TestRuleSet_Decide_CrawlDelayPropagates(t *testing.T) {
	delay := 3 * time.Second
	rs := ruleSet{host: "example.com", hasGroups: true, matchedGroup: true, crawlDelay: &delay}
	u, _ := url.Parse("https://example.com/page")
	decision := rs.Decide(*u)
	if decision.CrawlDelay != delay {
		t.Errorf("expected crawl delay %v, got %v", delay, decision.CrawlDelay)
	}
}
