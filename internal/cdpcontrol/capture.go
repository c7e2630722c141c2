package cdpcontrol

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

const defaultCaptureTimeout = 30 * time.Second

// CaptureOptions selects the page to capture.
type CaptureOptions struct {
	URL     string
	Timeout time.Duration
}

// Page is a captured document.
type Page struct {
	URL   string
	Title string
	HTML  string
}

// Capture opens URL in a new tab of the running browser, reads the full
// markup and closes the tab. The tab shares the browser's default context,
// so a logged in session carries over.
func Capture(ctx context.Context, cdpURL string, opts CaptureOptions) (Page, error) {
	if cdpURL == "" {
		return Page{}, newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}
	if opts.URL == "" {
		return Page{}, newError(CodeValidation, "capture needs a url", nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCaptureTimeout
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cdpURL)
	defer allocCancel()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	runCtx, cancel := context.WithTimeout(tabCtx, opts.Timeout)
	defer cancel()

	var p Page
	err := chromedp.Run(runCtx,
		chromedp.Navigate(opts.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&p.URL),
		chromedp.Title(&p.Title),
		chromedp.OuterHTML("html", &p.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return Page{}, newError(CodeCDPUnavailable, "capture page failed", err)
	}
	return p, nil
}
