package robotscache

import (
	"strings"
	"time"
)

// RobotsResponse represents the parsed content of a robots.txt file. It is
// the fetch-time representation; MapResponseToRuleSet turns it into the
// decision-time ruleSet.
type RobotsResponse struct {
	Host       string
	Sitemaps   []string
	UserAgents []UserAgentGroup
}

type UserAgentGroup struct {
	UserAgents []string
	Allows     []PathRule
	Disallows  []PathRule
	CrawlDelay *time.Duration
}

type PathRule struct {
	Path string
}

func (r RobotsResponse) IsEmpty() bool {
	if len(r.Sitemaps) > 0 {
		return false
	}
	for _, group := range r.UserAgents {
		if len(group.Allows) > 0 || len(group.Disallows) > 0 {
			return false
		}
	}
	return true
}

// GetGroupForUserAgent returns the most specific matching group, or nil.
func (r RobotsResponse) GetGroupForUserAgent(userAgent string) *UserAgentGroup {
	userAgentLower := strings.ToLower(userAgent)

	for i, group := range r.UserAgents {
		for _, ua := range group.UserAgents {
			if strings.ToLower(ua) == userAgentLower {
				return &r.UserAgents[i]
			}
		}
	}

	var bestMatch *UserAgentGroup
	bestMatchLength := 0
	for i, group := range r.UserAgents {
		for _, ua := range group.UserAgents {
			uaLower := strings.ToLower(ua)
			if ua == "*" {
				if bestMatch == nil {
					bestMatch = &r.UserAgents[i]
				}
				continue
			}
			if strings.HasPrefix(userAgentLower, uaLower) && len(uaLower) > bestMatchLength {
				bestMatch = &r.UserAgents[i]
				bestMatchLength = len(uaLower)
			}
		}
	}
	return bestMatch
}
