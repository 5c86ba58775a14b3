package extractor

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

const articleHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<title>Understanding Goroutines</title>
<meta name="description" content="A short tour of Go's concurrency model.">
<meta property="og:image" content="/images/gopher.png">
</head>
<body>
<article>
<h1>Understanding Goroutines</h1>
<p>Goroutines are lightweight threads managed by the Go runtime. They make it
practical to structure programs around many concurrently executing functions
without the cost of operating system threads.</p>
<p>Channels complement goroutines by providing a typed conduit for
communication, letting independent goroutines synchronize without explicit
locks. Together they form the backbone of Go's concurrency story.</p>
</article>
</body>
</html>`

func TestExtractArticle(t *testing.T) {
	t.Parallel()

	ex, err := New(nil).Extract(articleHTML, "https://blog.example/posts/goroutines")
	require.NoError(t, err)
	require.Equal(t, "Understanding Goroutines", ex.Title)
	require.Equal(t, "A short tour of Go's concurrency model.", ex.Description)
	require.Contains(t, ex.MainText, "lightweight threads")
	require.Equal(t, "https://blog.example/images/gopher.png", ex.ImageURL)
	require.Equal(t, articleHTML, ex.RawHTML)
}

func TestExtractEmptyPageIsNotAFailure(t *testing.T) {
	t.Parallel()

	ex, err := New(nil).Extract("<html><head></head><body></body></html>", "https://example.com/")
	require.NoError(t, err)
	require.Empty(t, ex.Title)
	require.Empty(t, ex.Description)
	require.Empty(t, ex.MainText)
	require.Empty(t, ex.ImageURL)
}

func TestExtractFallsBackToMetaTags(t *testing.T) {
	t.Parallel()

	// Too little text for readability; the document pass still recovers
	// OpenGraph metadata.
	html := `<html><head>
<meta property="og:title" content="OG Title">
<meta property="og:description" content="OG description.">
<meta property="og:image" content="https://cdn.example/pic.jpg">
</head><body><p>hi</p></body></html>`

	ex, err := New(nil).Extract(html, "https://example.com/short")
	require.NoError(t, err)
	require.Equal(t, "OG Title", ex.Title)
	require.Equal(t, "OG description.", ex.Description)
	require.Equal(t, "https://cdn.example/pic.jpg", ex.ImageURL)
}

func TestExtractTruncatesLongFields(t *testing.T) {
	t.Parallel()

	longTitle := strings.Repeat("t", archive.MaxTitleLen+100)
	longImage := "https://example.com/" + strings.Repeat("i", archive.MaxImageURLLen)
	html := fmt.Sprintf(`<html><head><title>%s</title>
<meta property="og:image" content="%s">
</head><body><p>body</p></body></html>`, longTitle, longImage)

	ex, err := New(nil).Extract(html, "https://example.com/")
	require.NoError(t, err)
	require.Len(t, ex.Title, archive.MaxTitleLen)
	require.LessOrEqual(t, len(ex.ImageURL), archive.MaxImageURLLen)
}

func TestExtractTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// Two bytes per rune; a byte-indexed cut would split the final rune.
	longTitle := strings.Repeat("é", archive.MaxTitleLen+10)
	html := fmt.Sprintf(`<html><head><title>%s</title></head><body><p>body</p></body></html>`, longTitle)

	ex, err := New(nil).Extract(html, "https://example.com/")
	require.NoError(t, err)
	require.True(t, utf8.ValidString(ex.Title))
	require.Equal(t, archive.MaxTitleLen, utf8.RuneCountInString(ex.Title))
}
