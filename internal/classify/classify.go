// Package classify implements the URL classifier and sitemap expander (C1):
// it maps one input URL to an ordered list of fetch targets.
package classify

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind is the classification of an input URL.
type Kind string

const (
	PlainPage Kind = "plain_page"
	TextFile  Kind = "text_file"
	Sitemap   Kind = "sitemap"
)

// Classify decides which of the three URL kinds a URL belongs to, purely by
// inspecting the lower-cased URL with any query or fragment removed: a ".txt"
// suffix is a TextFile, "sitemap" anywhere in it (or a "sitemap.xml" suffix)
// is a Sitemap, anything else is PlainPage.
func Classify(rawURL string) Kind {
	lower := strings.ToLower(rawURL)
	path := lower
	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		path = lower[:idx]
	}
	switch {
	case strings.HasSuffix(path, ".txt"):
		return TextFile
	case strings.Contains(path, "sitemap") || strings.HasSuffix(path, "sitemap.xml"):
		return Sitemap
	default:
		return PlainPage
	}
}

type urlset struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
	// sitemapindex files nest further sitemaps under <sitemap><loc>
	Sitemaps []sitemapURL `xml:"sitemap"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// Fetcher is the minimal HTTP surface ExpandSitemap needs; satisfied by
// *http.Client, and swappable in tests.
type Fetcher interface {
	Get(ctx context.Context, url string) (status int, body []byte, err error)
}

type httpFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a Fetcher backed by a plain net/http client with a
// bounded timeout, used whenever no fetcher pool is wired in for this step.
func NewHTTPFetcher(timeout time.Duration) Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpFetcher{client: &http.Client{Timeout: timeout}}
}

func (h *httpFetcher) Get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// ExpandSitemap fetches url, parses it as XML, and collects the text of
// every <loc> element regardless of namespace, preserving document order.
// It never raises: malformed XML or a non-200 response yields an empty list.
func ExpandSitemap(ctx context.Context, f Fetcher, url string) []string {
	status, body, err := f.Get(ctx, url)
	if err != nil {
		logrus.WithError(err).WithField("url", url).Warn("sitemap fetch failed")
		return nil
	}
	if status != http.StatusOK {
		logrus.WithField("url", url).WithField("status", status).Warn("sitemap fetch non-200")
		return nil
	}
	return parseLocs(body)
}

// parseLocs extracts every <loc> text node from an XML document in order,
// tolerating namespaced elements and either urlset or sitemapindex shapes.
func parseLocs(body []byte) []string {
	dec := xml.NewDecoder(strings.NewReader(string(body)))
	var locs []string
	var inLoc bool
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "loc" {
				inLoc = true
			}
		case xml.EndElement:
			if t.Name.Local == "loc" {
				inLoc = false
			}
		case xml.CharData:
			if inLoc {
				text := strings.TrimSpace(string(t))
				if text != "" {
					locs = append(locs, text)
				}
			}
		}
	}
	return locs
}
