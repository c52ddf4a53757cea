package robotscache

import (
	"strings"
	"time"
)

// MapResponseToRuleSet selects the most specific user-agent group for
// targetUserAgent and converts it into an immutable ruleSet.
func MapResponseToRuleSet(response RobotsResponse, targetUserAgent string, fetchedAt time.Time) ruleSet {
	rs := ruleSet{
		host:      response.Host,
		userAgent: targetUserAgent,
		fetchedAt: fetchedAt,
		sourceURL: "https://" + response.Host + "/robots.txt",
	}

	rs.hasGroups = len(response.UserAgents) > 0

	group := findBestMatchingGroup(response.UserAgents, targetUserAgent)
	if group != nil {
		rs.matchedGroup = true

		rs.allowRules = make([]pathRule, 0, len(group.Allows))
		for _, allow := range group.Allows {
			if allow.Path != "" {
				rs.allowRules = append(rs.allowRules, pathRule{prefix: normalizePath(allow.Path)})
			}
		}

		rs.disallowRules = make([]pathRule, 0, len(group.Disallows))
		for _, disallow := range group.Disallows {
			if disallow.Path != "" {
				rs.disallowRules = append(rs.disallowRules, pathRule{prefix: normalizePath(disallow.Path)})
			}
		}

		if group.CrawlDelay != nil {
			delay := *group.CrawlDelay
			rs.crawlDelay = &delay
		}
	}

	return rs
}

// findBestMatchingGroup picks the most specific user-agent group: exact
// match wins outright, otherwise the longest matching prefix, falling
// back to the wildcard group.
func findBestMatchingGroup(groups []UserAgentGroup, targetUserAgent string) *UserAgentGroup {
	var bestMatch *UserAgentGroup
	targetLower := strings.ToLower(targetUserAgent)
	bestMatchLength := 0

	for i := range groups {
		group := &groups[i]
		for _, ua := range group.UserAgents {
			uaLower := strings.ToLower(ua)

			if uaLower == targetLower {
				return group
			}
			if ua == "*" {
				if bestMatch == nil {
					bestMatch = group
				}
				continue
			}
			if strings.HasPrefix(targetLower, uaLower) && len(uaLower) > bestMatchLength {
				bestMatch = group
				bestMatchLength = len(uaLower)
			}
		}
	}
	return bestMatch
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func (r ruleSet) Host() string              { return r.host }
func (r ruleSet) UserAgent() string         { return r.userAgent }
func (r ruleSet) FetchedAt() time.Time      { return r.fetchedAt }
func (r ruleSet) SourceURL() string         { return r.sourceURL }

func (r ruleSet) CrawlDelay() *time.Duration {
	if r.crawlDelay == nil {
		return nil
	}
	delay := *r.crawlDelay
	return &delay
}

func (r ruleSet) AllowRules() []pathRule {
	result := make([]pathRule, len(r.allowRules))
	copy(result, r.allowRules)
	return result
}

func (r ruleSet) DisallowRules() []pathRule {
	result := make([]pathRule, len(r.disallowRules))
	copy(result, r.disallowRules)
	return result
}

func (p pathRule) Prefix() string { return p.prefix }
