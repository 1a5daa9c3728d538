package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// pdfLock is the process-wide mutex Lp. A single mutex, not one per
// pool, is deliberate: the hazard it guards against is two workers
// racing to open a popup tab in the *same shared context*, and this
// process drives exactly one context.
var pdfLock sync.Mutex

// quiescenceDelay is the fixed wait between closing the popup and
// releasing Lp (§4.4), empirically required because the browser's
// internal "new page" event for the just-closed tab can still be
// in flight.
const quiescenceDelay = 1200 * time.Millisecond

// PDFResult is the outcome of one PDF download attempt.
type PDFResult struct {
	Bytes []byte
}

// DownloadVehiclePDF enters the PDF critical section, clicks the
// Create PDF control on workerPage, captures the resulting popup tab,
// downloads its bytes over an authenticated HTTP client that reuses
// the shared context's cookies, and returns those bytes once the
// popup is closed and no stray PDF tabs remain in the context.
//
// Everything between arming the popup listener and the final
// stray-tab verification runs under pdfLock; navigation, filtering and
// inventory traversal happen outside it and are not serialized.
//
// downloader is shared across every worker for the life of a run so
// its rate limit applies across every worker's downloads, rather than
// being reset every call.
func DownloadVehiclePDF(ctx context.Context, pool *Pool, workerPage context.Context, downloader *Downloader, logger arbor.ILogger) (*PDFResult, error) {
	if err := chromedp.Run(workerPage,
		chromedp.WaitVisible(selPrintEmail, chromedp.ByQuery),
		chromedp.Click(selPrintEmail, chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.WaitVisible(selCreatePdf, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("open print/email modal: %w", err)
	}

	pdfLock.Lock()
	defer pdfLock.Unlock()
	logger.Debug().Msg("acquired pdf download lock")
	defer logger.Debug().Msg("released pdf download lock")

	popupTargetID, err := clickAndAwaitPopup(ctx, pool.BrowserContext(), workerPage)
	if err != nil {
		return nil, err
	}

	popupCtx, popupCancel := chromedp.NewContext(pool.BrowserContext(), chromedp.WithTargetID(popupTargetID))
	defer popupCancel()

	var popupURL string
	if err := chromedp.Run(popupCtx,
		network.Enable(),
		chromedp.Sleep(2*time.Second), // let the viewer finish rendering before reading location/cookies
		chromedp.Location(&popupURL),
	); err != nil {
		closeTarget(pool.BrowserContext(), popupTargetID, logger)
		return nil, fmt.Errorf("load pdf popup: %w", err)
	}

	cookies, err := cookiesForURL(popupCtx, popupURL)
	if err != nil {
		closeTarget(pool.BrowserContext(), popupTargetID, logger)
		return nil, fmt.Errorf("read popup cookies: %w", err)
	}

	data, err := downloader.Fetch(ctx, popupURL, cookies)
	closeErr := closePopupWithFallback(pool.BrowserContext(), popupCtx, popupTargetID, logger)
	if err != nil {
		return nil, fmt.Errorf("download pdf bytes: %w", err)
	}
	if closeErr != nil {
		logger.Warn().Err(closeErr).Msg("error closing pdf popup, continuing")
	}

	sweepStrayPopups(pool.BrowserContext(), logger)
	time.Sleep(quiescenceDelay)
	sweepStrayPopups(pool.BrowserContext(), logger)

	return &PDFResult{Bytes: data}, nil
}

// clickAndAwaitPopup arms a listener for the next "page" target created
// in browserCtx, clicks the Create PDF control, and returns the new
// target's ID. Arming the listener before the click — rather than
// polling targets after — is what prevents losing a popup that opens
// faster than the poll interval.
func clickAndAwaitPopup(ctx context.Context, browserCtx, workerPage context.Context) (target.ID, error) {
	listenCtx, cancel := context.WithCancel(browserCtx)
	defer cancel()

	found := make(chan target.ID, 1)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		created, ok := ev.(*target.EventTargetCreated)
		if !ok || created.TargetInfo.Type != "page" {
			return
		}
		select {
		case found <- created.TargetInfo.TargetID:
		default:
		}
	})

	if err := chromedp.Run(workerPage, chromedp.Click(selCreatePdf, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("click create pdf: %w", err)
	}

	select {
	case id := <-found:
		return id, nil
	case <-time.After(20 * time.Second):
		return "", fmt.Errorf("timed out waiting for pdf popup to open")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func cookiesForURL(pageCtx context.Context, url string) ([]*http.Cookie, error) {
	var cdpCookies []*network.Cookie
	if err := chromedp.Run(pageCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cdpCookies, err = network.GetCookies().WithURLs([]string{url}).Do(ctx)
		return err
	})); err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, 0, len(cdpCookies))
	for _, c := range cdpCookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return cookies, nil
}

func closePopupWithFallback(browserCtx, popupCtx context.Context, id target.ID, logger arbor.ILogger) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(popupCtx, page.Close())
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		logger.Warn().Str("target", string(id)).Msg("pdf popup close timed out, forcing target close")
		closeTarget(browserCtx, id, logger)
		return nil
	}
}

func closeTarget(browserCtx context.Context, id target.ID, logger arbor.ILogger) {
	if err := chromedp.Run(browserCtx, target.CloseTarget(id)); err != nil {
		logger.Warn().Err(err).Str("target", string(id)).Msg("failed to force-close target")
	}
}

// sweepStrayPopups closes any page target in browserCtx whose URL still
// matches the PDF-generation path. It runs once immediately after
// closing the known popup and once more after the quiescence delay, per
// §4.4's "verify no stray popups" step.
func sweepStrayPopups(browserCtx context.Context, logger arbor.ILogger) {
	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not enumerate targets to verify no stray pdf popups")
		return
	}
	for _, t := range targets {
		if t.Type == "page" && strings.Contains(t.URL, pdfPopupURLFragment) {
			logger.Warn().Str("url", t.URL).Msg("closing orphaned pdf popup")
			closeTarget(browserCtx, t.TargetID, logger)
		}
	}
}
