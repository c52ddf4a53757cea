package analyzer

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	dateSegmentRe = regexp.MustCompile(`^\d{4}(-\d{2}){0,2}$`)
	idSegmentRe   = regexp.MustCompile(`^[0-9]{2,}$`)
	langSegmentRe = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)
	slugSegmentRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+){1,}$`)

	placeWords = map[string]bool{
		"world": true, "us": true, "uk": true, "europe": true, "asia": true,
		"africa": true, "americas": true, "london": true, "china": true,
		"india": true, "australia": true, "canada": true, "japan": true,
	}
	topicWords = map[string]bool{
		"politics": true, "business": true, "tech": true, "technology": true,
		"sport": true, "sports": true, "science": true, "health": true,
		"entertainment": true, "opinion": true, "culture": true, "climate": true,
	}
)

// pathTemplate replaces each segment of path with a typed placeholder,
// e.g. "/news/2024/03/12/market-rally-continues" becomes
// "/news/{date}/{id}/{id}/{slug}".
func pathTemplate(path string) TemplateCandidate {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	typed := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		typed = append(typed, typeSegment(seg))
	}
	return TemplateCandidate{Pattern: "/" + strings.Join(typed, "/")}
}

func typeSegment(seg string) string {
	switch {
	case dateSegmentRe.MatchString(seg):
		return "{date}"
	case idSegmentRe.MatchString(seg):
		return "{id}"
	case langSegmentRe.MatchString(seg):
		return "{lang}"
	case slugSegmentRe.MatchString(seg):
		return "{slug}"
	default:
		return seg
	}
}

// hubCandidatesForPath inspects path for a single leading segment that
// names a place or topic, grading confidence by dictionary membership
// versus the configured generic hub-indicator segment list.
func hubCandidatesForPath(path string, indicatorSegments []string) []HubCandidate {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return nil
	}
	leading := strings.ToLower(segments[0])

	if placeWords[leading] {
		return []HubCandidate{{Kind: HubKindPlace, Confidence: HubConfidenceConfirmed, Segment: leading}}
	}
	if topicWords[leading] {
		return []HubCandidate{{Kind: HubKindTopic, Confidence: HubConfidenceConfirmed, Segment: leading}}
	}

	for _, indicator := range indicatorSegments {
		if strings.EqualFold(indicator, leading) {
			return []HubCandidate{{Kind: HubKindTopic, Confidence: HubConfidenceProbable, Segment: leading}}
		}
	}

	if len(segments) == 1 && !isNumeric(leading) {
		return []HubCandidate{{Kind: HubKindTopic, Confidence: HubConfidenceProbable, Segment: leading}}
	}
	return nil
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
