// Package crawlplan implements the smart-crawl planner (C13): given one URL
// and a max depth, it decides per-URL recursion policy and returns an
// ordered list of URLs to fetch.
package crawlplan

import (
	"context"

	"ragserver/internal/classify"
	"ragserver/internal/fetch"
)

// PageFetcher is the subset of the fetcher pool the planner needs to expand
// a breadth-first frontier for plain web pages.
type PageFetcher interface {
	FetchBatch(ctx context.Context, urls []string, maxConcurrent int) []fetch.Record
}

// Plan decides the recursion policy for url and returns the ordered list of
// URLs to fetch:
//   - Sitemap: the expanded <loc> list, depth-1, no recursion.
//   - TextFile: the URL itself, crawled as a single document.
//   - PlainPage: a breadth-first expansion up to maxDepth over internal
//     outlinks, deduplicated globally.
func Plan(ctx context.Context, sm classify.Fetcher, pages PageFetcher, url string, maxDepth, maxConcurrent int) []string {
	switch classify.Classify(url) {
	case classify.Sitemap:
		return classify.ExpandSitemap(ctx, sm, url)
	case classify.TextFile:
		return []string{url}
	default:
		return breadthFirst(ctx, pages, url, maxDepth, maxConcurrent)
	}
}

func breadthFirst(ctx context.Context, pages PageFetcher, start string, maxDepth, maxConcurrent int) []string {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	visited := map[string]bool{start: true}
	var result []string
	frontier := []string{start}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		records := pages.FetchBatch(ctx, frontier, maxConcurrent)
		result = append(result, frontier...)

		var next []string
		for _, rec := range records {
			if !rec.OK {
				continue
			}
			for _, link := range rec.Outlinks.Internal {
				if visited[link] {
					continue
				}
				visited[link] = true
				next = append(next, link)
			}
		}
		frontier = next
	}
	return result
}
