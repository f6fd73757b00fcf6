package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"https://example.com/robots.txt":    TextFile,
		"https://example.com/sitemap.xml":   Sitemap,
		"https://example.com/a/sitemap_1":   Sitemap,
		"https://example.com/blog/post":     PlainPage,
		"https://example.com/file.TXT":      TextFile,
		"https://example.com/?x=sitemap":    PlainPage,
	}
	for url, want := range cases {
		require.Equal(t, want, Classify(url), url)
	}
}

type stubFetcher struct {
	status int
	body   []byte
	err    error
}

func (s stubFetcher) Get(ctx context.Context, url string) (int, []byte, error) {
	return s.status, s.body, s.err
}

func TestExpandSitemapOrdersLocs(t *testing.T) {
	body := []byte(`<urlset><url><loc>https://a.test/1</loc></url><url><loc>https://a.test/2</loc></url></urlset>`)
	got := ExpandSitemap(context.Background(), stubFetcher{status: 200, body: body}, "https://a.test/sitemap.xml")
	require.Equal(t, []string{"https://a.test/1", "https://a.test/2"}, got)
}

func TestExpandSitemapToleratesFailures(t *testing.T) {
	require.Empty(t, ExpandSitemap(context.Background(), stubFetcher{status: 404}, "https://a.test/sitemap.xml"))
	require.Empty(t, ExpandSitemap(context.Background(), stubFetcher{status: 200, body: []byte("<not-xml")}, "https://a.test/sitemap.xml"))
	require.Empty(t, ExpandSitemap(context.Background(), stubFetcher{err: context.DeadlineExceeded}, "https://a.test/sitemap.xml"))
}
