// Package fetch implements the fetcher pool (C2): a bounded-concurrency web
// fetch that produces rendered markdown plus classified outlinks.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"ragserver/internal/concurrency"
)

// ErrorKind mirrors the fetch-failure slice of the error taxonomy.
type ErrorKind string

const (
	ErrInvalidURL ErrorKind = "InvalidURL"
	ErrTimeout    ErrorKind = "Timeout"
	ErrDNS        ErrorKind = "DNSFailure"
	ErrTLS        ErrorKind = "TLSFailure"
	ErrConnection ErrorKind = "ConnectionRefused"
	ErrHTTPStatus ErrorKind = "HTTPStatus"
)

// Outlinks splits a page's discovered links by whether they share the input
// URL's host.
type Outlinks struct {
	Internal []string
	External []string
}

// Record is a single fetch outcome, returned in input order.
type Record struct {
	URL      string
	Markdown string
	Outlinks Outlinks
	OK       bool
	Status   int
	ErrKind  ErrorKind
	Err      string
}

// Renderer abstracts the headless-browser render step so the pool can be
// tested without launching Chrome.
type Renderer interface {
	Render(ctx context.Context, targetURL string) (htmlBody string, status int, err error)
}

// Pool is the C2 fetcher pool.
type Pool struct {
	renderer      Renderer
	maxBytes      int
	perURLTimeout time.Duration
}

// NewPool builds a fetcher pool around the given Renderer.
func NewPool(renderer Renderer, perURLTimeout time.Duration, maxBytes int) *Pool {
	if perURLTimeout <= 0 {
		perURLTimeout = 20 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Pool{renderer: renderer, perURLTimeout: perURLTimeout, maxBytes: maxBytes}
}

// FetchBatch fetches every distinct URL (first occurrence wins on
// duplicates), bounded to maxConcurrent in-flight fetches, preserving input
// order in the result.
func (p *Pool) FetchBatch(ctx context.Context, urls []string, maxConcurrent int) []Record {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	seen := make(map[string]int) // url -> index of first occurrence
	order := make([]string, 0, len(urls))
	dupOf := make([]int, len(urls)) // for each input index, the result slot it maps to
	for i, u := range urls {
		if idx, ok := seen[u]; ok {
			dupOf[i] = idx
			continue
		}
		idx := len(order)
		seen[u] = idx
		order = append(order, u)
		dupOf[i] = idx
	}

	unique := concurrency.RunBatched(ctx, order, maxConcurrent, func(ctx context.Context, u string) (Record, error) {
		return p.fetchOne(ctx, u), nil
	})

	out := make([]Record, len(urls))
	for i := range urls {
		out[i] = unique[dupOf[i]].Value
	}
	return out
}

func (p *Pool) fetchOne(ctx context.Context, target string) Record {
	rec := Record{URL: target}

	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		rec.ErrKind = ErrInvalidURL
		rec.Err = "unsupported or malformed URL scheme"
		return rec
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.perURLTimeout)
	defer cancel()

	htmlBody, status, err := p.renderer.Render(fetchCtx, target)
	if err != nil {
		rec.ErrKind = classifyRenderError(err)
		rec.Err = err.Error()
		return rec
	}
	rec.Status = status
	if status >= 400 {
		rec.ErrKind = ErrHTTPStatus
		rec.Err = fmt.Sprintf("upstream returned status %d", status)
		return rec
	}
	if len(htmlBody) > p.maxBytes {
		htmlBody = htmlBody[:p.maxBytes]
	}

	rec.OK = true
	markdown, err := toMarkdown(htmlBody)
	if err != nil {
		logrus.WithError(err).WithField("url", target).Warn("markdown rendering failed, leaving body empty")
		markdown = ""
	}
	rec.Markdown = strings.TrimSpace(markdown)
	rec.Outlinks = classifyOutlinks(htmlBody, parsed)
	return rec
}

func classifyRenderError(err error) ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrTimeout
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "dns"):
		return ErrDNS
	case strings.Contains(msg, "certificate") || strings.Contains(msg, "tls") || strings.Contains(msg, "x509"):
		return ErrTLS
	case strings.Contains(msg, "refused"):
		return ErrConnection
	default:
		return ErrConnection
	}
}

// toMarkdown extracts the reader-view main content via go-readability and
// renders it to markdown via html-to-markdown.
func toMarkdown(htmlBody string) (string, error) {
	if strings.TrimSpace(htmlBody) == "" {
		return "", nil
	}
	article, err := readability.FromReader(strings.NewReader(htmlBody), nil)
	content := htmlBody
	if err == nil && strings.TrimSpace(article.Content) != "" {
		content = article.Content
	}
	conv := converter.NewConverter(converter.WithDomain(""))
	md, err := conv.ConvertString(content)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return md, nil
}

// classifyOutlinks walks the page's anchor tags and splits them into
// internal (same host as u) vs external links.
func classifyOutlinks(htmlBody string, u *url.URL) Outlinks {
	doc, err := html.Parse(strings.NewReader(htmlBody))
	if err != nil {
		return Outlinks{}
	}
	var out Outlinks
	seen := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				href := strings.TrimSpace(a.Val)
				if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
					continue
				}
				resolved, err := u.Parse(href)
				if err != nil {
					continue
				}
				if resolved.Scheme != "http" && resolved.Scheme != "https" {
					continue
				}
				abs := resolved.String()
				if seen[abs] {
					continue
				}
				seen[abs] = true
				if strings.EqualFold(resolved.Hostname(), u.Hostname()) {
					out.Internal = append(out.Internal, abs)
				} else {
					out.External = append(out.External, abs)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}
