package fetch

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeRenderer renders pages with a headless Chrome instance, used for
// JS-heavy pages that a plain HTTP GET would return empty-bodied.
type ChromeRenderer struct {
	UserAgent string
}

// NewChromeRenderer builds a ChromeRenderer with a conservative default
// user agent, matching the rest of the retrieved corpus's headless fetch path.
func NewChromeRenderer() *ChromeRenderer {
	return &ChromeRenderer{UserAgent: "ragserver-fetcher"}
}

// Render navigates to targetURL in a fresh headless tab and returns the
// rendered outer HTML.
func (c *ChromeRenderer) Render(ctx context.Context, targetURL string) (string, int, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var htmlBody string
	status := 200
	err := chromedp.Run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			headers := network.Headers{
				"User-Agent":      c.UserAgent,
				"Accept-Language": "en-US,en;q=0.9",
			}
			return network.SetExtraHTTPHeaders(headers).Do(ctx)
		}),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &htmlBody, chromedp.ByQuery),
	)
	if err != nil {
		return "", 0, fmt.Errorf("render page: %w", err)
	}
	return htmlBody, status, nil
}
