package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Downloader fetches PDF bytes from the target site over a plain HTTP
// client that carries the browser session's cookies, rate-limited so
// back-to-back downloads do not hammer the site. DownloadVehiclePDF calls
// Fetch while holding Lp, so downloads from different workers never
// overlap; the limiter additionally spaces them out.
// One Downloader is shared across every worker for the life of a run —
// constructing a fresh one per download would reset the token bucket
// to full every time and make the limit decorative.
type Downloader struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewDownloader builds a downloader with a token-bucket limit of
// ratePerSecond requests per second and a burst of one.
func NewDownloader(ratePerSecond float64) (*Downloader, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 4
	}
	return &Downloader{
		client:  &http.Client{Jar: jar, Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}, nil
}

// Fetch downloads pdfURL after waiting for the rate limiter, attaching
// cookies to the request's jar so the authenticated session carries
// through.
func (d *Downloader) Fetch(ctx context.Context, pdfURL string, cookies []*http.Cookie) ([]byte, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	parsed, err := url.Parse(pdfURL)
	if err != nil {
		return nil, fmt.Errorf("parse pdf url: %w", err)
	}
	d.client.Jar.SetCookies(parsed, cookies)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pdf: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d downloading pdf", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read pdf body: %w", err)
	}
	return data, nil
}
