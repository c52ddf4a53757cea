package robotscache

import (
	"net/url"
	"strings"
	"time"
)

// Permission modeling

type pathRule struct {
	prefix string
}

type ruleSet struct {
	host string

	// The user-agent these rules apply to (resolved, not raw)
	userAgent string

	allowRules    []pathRule
	disallowRules []pathRule

	crawlDelay *time.Duration

	fetchedAt time.Time
	sourceURL string

	// matchedGroup is false when no user-agent group matched (not even *).
	matchedGroup bool
	// hasGroups is false when the fetched robots.txt had no groups at all.
	hasGroups bool
}

type DecisionReason string

const (
	AllowedByRobots     DecisionReason = "allowed_by_robots"
	DisallowedByRobots  DecisionReason = "disallowed_by_robots"
	UserAgentNotMatched DecisionReason = "user_agent_not_matched"
	EmptyRuleSet        DecisionReason = "empty_rule_set"
	NoMatchingRules     DecisionReason = "no_matching_rules"
)

type Decision struct {
	Url url.URL

	Allowed bool

	Reason DecisionReason

	// CrawlDelay is the robots.txt crawl-delay for the matched group, zero
	// when none was declared.
	CrawlDelay time.Duration
}

// patternMatches implements robots.txt path matching: "*" matches any
// run of characters, a trailing "$" anchors the match to the end of
// path. The pattern's first literal segment must align with the start
// of path (robots.txt rules are always prefix rules).
func patternMatches(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	anchored := strings.HasSuffix(pattern, "$")
	body := pattern
	if anchored {
		body = body[:len(body)-1]
	}
	parts := strings.Split(body, "*")

	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		last := i == len(parts)-1
		if last && anchored {
			if !strings.HasSuffix(path, part) {
				return false
			}
			startIdx := len(path) - len(part)
			if startIdx < pos {
				return false
			}
			pos = len(path)
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx == -1 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}
	if anchored {
		return pos == len(path)
	}
	return true
}

func (p pathRule) matches(path string) bool {
	return patternMatches(p.prefix, path)
}

// Decide applies the longest-match-wins robots.txt convention: the
// matching allow or disallow rule with the longest raw pattern governs;
// ties favor Allow.
func (rs ruleSet) Decide(u url.URL) Decision {
	path := u.Path
	if path == "" {
		path = "/"
	}

	delay := time.Duration(0)
	if rs.crawlDelay != nil {
		delay = *rs.crawlDelay
	}

	if !rs.hasGroups {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet}
	}
	if !rs.matchedGroup {
		return Decision{Url: u, Allowed: true, Reason: UserAgentNotMatched}
	}

	bestAllowLen, bestDisallowLen := -1, -1
	for _, r := range rs.allowRules {
		if r.matches(path) && len(r.prefix) > bestAllowLen {
			bestAllowLen = len(r.prefix)
		}
	}
	for _, r := range rs.disallowRules {
		if r.matches(path) && len(r.prefix) > bestDisallowLen {
			bestDisallowLen = len(r.prefix)
		}
	}

	switch {
	case bestAllowLen < 0 && bestDisallowLen < 0:
		return Decision{Url: u, Allowed: true, Reason: NoMatchingRules, CrawlDelay: delay}
	case bestDisallowLen > bestAllowLen:
		return Decision{Url: u, Allowed: false, Reason: DisallowedByRobots, CrawlDelay: delay}
	default:
		return Decision{Url: u, Allowed: true, Reason: AllowedByRobots, CrawlDelay: delay}
	}
}
