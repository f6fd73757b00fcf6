package crawlplan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ragserver/internal/fetch"
)

type stubSitemapFetcher struct {
	body []byte
}

func (s stubSitemapFetcher) Get(ctx context.Context, rawURL string) (int, []byte, error) {
	return 200, s.body, nil
}

type stubPages struct {
	byURL map[string]fetch.Record
}

func (s stubPages) FetchBatch(ctx context.Context, urls []string, maxConcurrent int) []fetch.Record {
	out := make([]fetch.Record, len(urls))
	for i, u := range urls {
		out[i] = s.byURL[u]
	}
	return out
}

func TestPlanSitemapExpandsLocs(t *testing.T) {
	body := []byte(`<urlset><url><loc>https://a.test/1</loc></url><url><loc>https://a.test/2</loc></url></urlset>`)
	out := Plan(context.Background(), stubSitemapFetcher{body: body}, stubPages{}, "https://a.test/sitemap.xml", 3, 4)
	require.Equal(t, []string{"https://a.test/1", "https://a.test/2"}, out)
}

func TestPlanTextFileReturnsSingleURL(t *testing.T) {
	out := Plan(context.Background(), stubSitemapFetcher{}, stubPages{}, "https://a.test/notes.txt", 3, 4)
	require.Equal(t, []string{"https://a.test/notes.txt"}, out)
}

func TestPlanPlainPageBreadthFirstExpandsAndDedupes(t *testing.T) {
	pages := stubPages{byURL: map[string]fetch.Record{
		"https://a.test/": {
			URL: "https://a.test/", OK: true,
			Outlinks: fetch.Outlinks{Internal: []string{"https://a.test/p1", "https://a.test/p2"}},
		},
		"https://a.test/p1": {
			URL: "https://a.test/p1", OK: true,
			Outlinks: fetch.Outlinks{Internal: []string{"https://a.test/p2", "https://a.test/"}},
		},
		"https://a.test/p2": {URL: "https://a.test/p2", OK: true},
	}}
	out := Plan(context.Background(), stubSitemapFetcher{}, pages, "https://a.test/", 3, 4)
	require.Equal(t, []string{"https://a.test/", "https://a.test/p1", "https://a.test/p2"}, out)
}

func TestPlanPlainPageRespectsMaxDepth(t *testing.T) {
	pages := stubPages{byURL: map[string]fetch.Record{
		"https://a.test/": {
			URL: "https://a.test/", OK: true,
			Outlinks: fetch.Outlinks{Internal: []string{"https://a.test/p1"}},
		},
		"https://a.test/p1": {
			URL: "https://a.test/p1", OK: true,
			Outlinks: fetch.Outlinks{Internal: []string{"https://a.test/p2"}},
		},
	}}
	out := Plan(context.Background(), stubSitemapFetcher{}, pages, "https://a.test/", 1, 4)
	require.Equal(t, []string{"https://a.test/"}, out)
}

func TestPlanSkipsFailedFetchesWhenExpandingFrontier(t *testing.T) {
	pages := stubPages{byURL: map[string]fetch.Record{
		"https://a.test/": {URL: "https://a.test/", OK: false},
	}}
	out := Plan(context.Background(), stubSitemapFetcher{}, pages, "https://a.test/", 2, 4)
	require.Equal(t, []string{"https://a.test/"}, out)
}
