// Package extractor converts raw fetched HTML into a clean article
// representation. Extraction is best-effort: a page with no discernible
// title or text still yields a usable (empty) extraction, because that
// reflects the page's actual content rather than a tool failure.
package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

// Extractor parses article content out of HTML documents.
type Extractor struct {
	logger *zap.Logger
}

// New constructs an Extractor. A nil logger disables logging.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract runs the readability algorithm over rawHTML, filling gaps from
// meta/OpenGraph tags. pageURL is used to resolve relative image links.
// The only hard failure is HTML that cannot be tokenized at all.
func (e *Extractor) Extract(rawHTML string, pageURL string) (archive.Extraction, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = &url.URL{}
	}

	ex := archive.Extraction{
		RawHTML:  rawHTML,
		Metadata: archive.Metadata{},
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), base)
	if err == nil {
		ex.Title = article.Title
		ex.Description = article.Excerpt
		ex.MainText = strings.TrimSpace(article.TextContent)
		ex.ImageURL = article.Image
		if article.SiteName != "" {
			ex.Metadata["site_name"] = article.SiteName
		}
		if article.Byline != "" {
			ex.Metadata["byline"] = article.Byline
		}
		if article.Language != "" {
			ex.Metadata["language"] = article.Language
		}
	} else {
		e.logger.Debug("readability extraction failed, falling back to document tags",
			zap.String("url", pageURL), zap.Error(err))
	}

	if err := e.fillFromDocument(&ex, rawHTML, base); err != nil {
		// Readability already produced something; only surface the parse
		// error when both passes failed.
		if ex.Title == "" && ex.MainText == "" {
			return archive.Extraction{}, fmt.Errorf("parse html: %w", err)
		}
	}

	ex.Title = truncate(strings.TrimSpace(ex.Title), archive.MaxTitleLen)
	ex.ImageURL = truncate(resolveURL(base, ex.ImageURL), archive.MaxImageURLLen)
	if len(ex.Metadata) == 0 {
		ex.Metadata = nil
	}
	return ex, nil
}

// fillFromDocument fills empty fields from <title>, meta description, and
// OpenGraph tags.
func (e *Extractor) fillFromDocument(ex *archive.Extraction, rawHTML string, base *url.URL) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return err
	}

	if ex.Title == "" {
		ex.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if ex.Title == "" {
		if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			ex.Title = strings.TrimSpace(og)
		}
	}
	if ex.Description == "" {
		if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
			ex.Description = strings.TrimSpace(desc)
		}
	}
	if ex.Description == "" {
		if og, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
			ex.Description = strings.TrimSpace(og)
		}
	}
	if ex.ImageURL == "" {
		if og, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
			ex.ImageURL = strings.TrimSpace(og)
		}
	}
	if ex.MainText == "" {
		ex.MainText = strings.TrimSpace(doc.Find("body").Text())
	}
	return nil
}

// resolveURL makes ref absolute against base so relative og:image paths
// survive outside the page.
func resolveURL(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// truncate caps s at limit characters, never splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
