package scripture

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PleaPipeline/internal/ports"
)

// HTMLSource scrapes a reader web page for chapter text. The URL template
// contains {query}, replaced with the query-escaped passage query
// ("Psalm 23" becomes "Psalm+23"), so it belongs in the query string.
type HTMLSource struct {
	urlTemplate string
	selector    string
	client      *http.Client
}

var _ ports.ScriptureSource = (*HTMLSource)(nil)

// NewHTMLSource wires an HTTP client; selector defaults to ".passage-text p".
func NewHTMLSource(urlTemplate, selector string, client *http.Client) *HTMLSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if selector == "" {
		selector = ".passage-text p"
	}
	return &HTMLSource{urlTemplate: urlTemplate, selector: selector, client: client}
}

// Chapter extracts the paragraphs matching the selector, dropping footnote
// and cross-reference markers.
func (h *HTMLSource) Chapter(ctx context.Context, query string) (string, error) {
	if h.urlTemplate == "" {
		return "", fmt.Errorf("html scripture source not configured")
	}

	pageURL := strings.ReplaceAll(h.urlTemplate, "{query}", url.QueryEscape(query))
	doc, err := h.fetchDocument(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("passage %s: %w", query, err)
	}

	doc.Find("sup.footnote, sup.crossreference, .footnotes, .crossrefs, h3, h4").Remove()

	var paragraphs []string
	doc.Find(h.selector).Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	if len(paragraphs) == 0 {
		return "", fmt.Errorf("passage %s: no text matched %q", query, h.selector)
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

func (h *HTMLSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "PleaPipeline/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reader returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}
