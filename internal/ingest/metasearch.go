package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

var httpURLPattern = regexp.MustCompile(`^https?://`)

// DuckDuckGoSearch is the external meta-search front-end (section 6),
// scraping DuckDuckGo's lite interface through headless Chrome. Grounded on
// the teacher's SearchDDG.
type DuckDuckGoSearch struct{}

// Search submits query to DuckDuckGo lite and returns up to numResults
// distinct result URLs, excluding DuckDuckGo's own domain.
func (DuckDuckGoSearch) Search(ctx context.Context, query string, numResults int) ([]string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(`https://lite.duckduckgo.com/lite/`),
		chromedp.WaitVisible(`input[name="q"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="q"]`, query+"\n", chromedp.ByQuery),
		chromedp.WaitVisible(`input[name="q"]`, chromedp.ByQuery),
		chromedp.Nodes(`a`, &nodes, chromedp.ByQueryAll),
	)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search: %w", err)
	}

	seen := make(map[string]bool)
	var out []string
	for _, n := range nodes {
		for _, attr := range n.Attributes {
			if !httpURLPattern.MatchString(attr) || strings.Contains(attr, "duckduckgo") {
				continue
			}
			if seen[attr] {
				continue
			}
			seen[attr] = true
			out = append(out, attr)
			if len(out) >= numResults {
				return out, nil
			}
		}
	}
	return out, nil
}
