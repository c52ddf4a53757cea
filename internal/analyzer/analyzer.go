/*
Package analyzer classifies a fetched page as article, hub, or other;
harvests outbound links tagged with a navigation-context heuristic;
derives path-template candidates; and flags place/topic hub signals.
It is the Worker's single point of content understanding, consumed to
decide what gets enqueued next and at what priority.
*/
package analyzer

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/metabench/crawlfleet/internal/config"
	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/pkg/failure"
)

type Analyzer struct {
	metadataSink metadata.MetadataSink
	cfg          config.Config
}

func NewAnalyzer(metadataSink metadata.MetadataSink, cfg config.Config) Analyzer {
	return Analyzer{metadataSink: metadataSink, cfg: cfg}
}

// Analyze parses body as HTML fetched from finalURL and classifies it.
// knownArticleTemplates are the domain's already-promoted path templates
// (internal/intelligence); a path matching one short-circuits
// classification straight to article, the way a confirmed template
// overrides a borderline word-count/nav-ratio verdict.
func (a Analyzer) Analyze(finalURL url.URL, body []byte, knownArticleTemplates []string) (Result, failure.ClassifiedError) {
	result, err := a.analyze(finalURL, body, knownArticleTemplates)
	if err != nil {
		var analysisErr *AnalysisError
		if e, ok := err.(*AnalysisError); ok {
			analysisErr = e
		} else {
			analysisErr = &AnalysisError{Message: err.Error(), Retryable: false, Cause: ErrCauseParseFailure}
		}
		a.metadataSink.RecordError(
			time.Now(),
			"analyzer",
			"Analyzer.Analyze",
			mapAnalysisErrorToMetadataCause(analysisErr),
			analysisErr.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, finalURL.String()),
			},
		)
		return Result{Classification: ClassificationOther}, analysisErr
	}
	return result, nil
}

func (a Analyzer) analyze(finalURL url.URL, body []byte, knownArticleTemplates []string) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, &AnalysisError{
			Message:   fmt.Sprintf("failed to parse HTML: %v", err),
			Retryable: false,
			Cause:     ErrCauseParseFailure,
		}
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	language, _ := doc.Find("html").Attr("lang")

	doc.Find("script, style").Remove()
	wordCount := len(strings.Fields(doc.Find("body").Text()))

	links := harvestLinks(doc, finalURL, a.cfg.HubLinkCountThreshold())

	navLinks := 0
	for _, l := range links {
		if l.IsNavLink {
			navLinks++
		}
	}
	navRatio := 0.0
	if len(links) > 0 {
		navRatio = float64(navLinks) / float64(len(links))
	}

	tmpl := pathTemplate(finalURL.Path)
	classification := classify(wordCount, navRatio, len(links), tmpl.Pattern, knownArticleTemplates, a.cfg)

	var templates []TemplateCandidate
	if classification == ClassificationArticle {
		templates = []TemplateCandidate{tmpl}
	}

	var hubCandidates []HubCandidate
	if classification == ClassificationHub {
		hubCandidates = hubCandidatesForPath(finalURL.Path, a.cfg.HubIndicatorSegments())
	}

	return Result{
		Classification: classification,
		Title:          title,
		WordCount:      wordCount,
		Language:       language,
		Links:          links,
		Templates:      templates,
		HubCandidates:  hubCandidates,
	}, nil
}

// classify applies spec's article/hub/other thresholds: a path matching
// an already-promoted template is an article outright; otherwise a
// sufficiently wordy, low-nav-ratio page is an article, a page with more
// than HubLinkCountThreshold links and a nav ratio above NavRatioThreshold
// is a hub, and everything else is other.
func classify(wordCount int, navRatio float64, linkCount int, pattern string, knownArticleTemplates []string, cfg config.Config) Classification {
	for _, known := range knownArticleTemplates {
		if known == pattern {
			return ClassificationArticle
		}
	}
	if wordCount >= cfg.ArticleWordCountThreshold() && navRatio < cfg.NavRatioThreshold() {
		return ClassificationArticle
	}
	if linkCount > cfg.HubLinkCountThreshold() && navRatio > cfg.NavRatioThreshold() {
		return ClassificationHub
	}
	return ClassificationOther
}
